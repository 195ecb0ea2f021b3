// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ibsdist

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grailbio/base/traverse"
)

// SiteMask records which sites of a Series are excluded.  A site is excluded
// iff at least one sample carries the Excluded code there.
type SiteMask struct {
	nSite    int
	excluded *roaring.Bitmap
}

// NewSiteMask computes the mask of s.  Per-sample bitmaps are built
// concurrently and then OR-ed together.
//
// REQUIRES: s.Len() <= math.MaxUint32.
func NewSiteMask(s Series, parallelism int) *SiteMask {
	perSample := make([]*roaring.Bitmap, len(s))
	_ = traverse.Limit(workers(parallelism)).Each(len(s), func(i int) error {
		bm := roaring.New()
		for site, d := range s[i] {
			if d == Excluded {
				bm.Add(uint32(site))
			}
		}
		perSample[i] = bm
		return nil
	})
	m := &SiteMask{nSite: s.Len()}
	if len(perSample) == 0 {
		m.excluded = roaring.New()
	} else {
		m.excluded = roaring.FastOr(perSample...)
	}
	return m
}

// NumExcluded returns the number of excluded sites.
func (m *SiteMask) NumExcluded() int {
	return int(m.excluded.GetCardinality())
}

// Valid reports whether site is kept.
func (m *SiteMask) Valid(site int) bool {
	return !m.excluded.Contains(uint32(site))
}

// Apply returns a Series holding only the valid sites of s, in order.  Every
// sample loses the same sites, so the result stays aligned.  s is not
// modified.
func (m *SiteMask) Apply(s Series, parallelism int) Series {
	if m.excluded.IsEmpty() {
		return s
	}
	excluded := m.excluded.ToArray()
	out := make(Series, len(s))
	_ = traverse.Limit(workers(parallelism)).Each(len(s), func(i int) error {
		src := s[i]
		dst := make([]Dosage, 0, len(src)-len(excluded))
		prev := 0
		for _, site := range excluded {
			dst = append(dst, src[prev:site]...)
			prev = int(site) + 1
		}
		out[i] = append(dst, src[prev:]...)
		return nil
	})
	return out
}
