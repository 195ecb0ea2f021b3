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

// Series holds one dosage sequence per sample.  All sequences have the same
// length, and index i refers to the same site in each.
type Series [][]Dosage

// NewSeries returns an empty Series for nSample samples, each with room for
// capacity sites.
func NewSeries(nSample, capacity int) Series {
	s := make(Series, nSample)
	for i := range s {
		s[i] = make([]Dosage, 0, capacity)
	}
	return s
}

// Len returns the number of sites.
func (s Series) Len() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// Merge appends the sites of b after those of s, sample by sample, and
// returns the result.  s and b must have the same number of samples.
func (s Series) Merge(b Series) Series {
	if len(s) != len(b) {
		panic("ibsdist: merging series with different sample counts")
	}
	for i := range s {
		s[i] = append(s[i], b[i]...)
	}
	return s
}

// Concat joins parts in order into a freshly allocated Series.  Nil parts
// are treated as empty.
func Concat(parts []Series, nSample int) Series {
	total := 0
	for _, p := range parts {
		total += p.Len()
	}
	s := NewSeries(nSample, total)
	for _, p := range parts {
		if p == nil {
			continue
		}
		s = s.Merge(p)
	}
	return s
}
