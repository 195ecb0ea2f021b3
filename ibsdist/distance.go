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
	"encoding/binary"
	"math"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/traverse"
)

// Matrix is a square matrix of pairwise distances.
type Matrix struct {
	n    int
	data []float64 // row-major n*n array.
}

// NewMatrix returns an n x n zero matrix.
func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, data: make([]float64, n*n)}
}

// Len returns the number of rows (equivalently, columns).
func (m *Matrix) Len() int { return m.n }

// At returns the entry at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.data[i*m.n+j] }

// setPair sets both (i,j) and (j,i).
func (m *Matrix) setPair(i, j int, v float64) {
	m.data[i*m.n+j] = v
	m.data[j*m.n+i] = v
}

// Digest returns a fingerprint of the exact bit pattern of every entry.  Two
// matrices have equal digests iff they are bit-identical, barring hash
// collisions.
func (m *Matrix) Digest() uint64 {
	buf := make([]byte, 8*len(m.data))
	for i, v := range m.data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return farm.Fingerprint64(buf)
}

// PairDistance returns the mean of |a[k]-b[k]|/2 over the sites k where
// neither call is Missing.  It returns NaN if there is no such site.
//
// REQUIRES: len(a) == len(b), and neither contains Excluded.
func PairDistance(a, b []Dosage) float64 {
	var (
		sum   int
		count int
	)
	b = b[:len(a)]
	for k, x := range a {
		y := b[k]
		if x == Missing || y == Missing {
			continue
		}
		if x > y {
			sum += int(x - y)
		} else {
			sum += int(y - x)
		}
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return float64(sum) / float64(2*count)
}

// pairChunk is a contiguous run of the lexicographically ordered pairs
// (i,j), i<j.
type pairChunk struct {
	i, j  int // first pair
	n     int // number of pairs
	dists []float64
}

// splitPairs divides the nSample*(nSample-1)/2 pairs into runs of at most
// chunkSize pairs.
func splitPairs(nSample, chunkSize int) []pairChunk {
	var chunks []pairChunk
	cur := pairChunk{}
	for i := 0; i < nSample; i++ {
		for j := i + 1; j < nSample; j++ {
			if cur.n == 0 {
				cur.i, cur.j = i, j
			}
			cur.n++
			if cur.n == chunkSize {
				chunks = append(chunks, cur)
				cur = pairChunk{}
			}
		}
	}
	if cur.n > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// nextPair returns the pair that follows (i,j).
func nextPair(i, j, nSample int) (int, int) {
	if j+1 < nSample {
		return i, j + 1
	}
	return i + 1, i + 2
}

// ComputeMatrix computes PairDistance for every pair of samples in s.  Pairs
// are evaluated concurrently in chunks; results are then written into the
// matrix by a single goroutine.  The diagonal is zero.
//
// REQUIRES: s has been filtered by a SiteMask.
func ComputeMatrix(s Series, parallelism int) *Matrix {
	parallelism = workers(parallelism)
	nSample := len(s)
	m := NewMatrix(nSample)
	nPairs := nSample * (nSample - 1) / 2
	if nPairs == 0 {
		return m
	}
	chunkSize := nPairs / parallelism / 2
	if chunkSize < 1 {
		chunkSize = 1
	}
	chunks := splitPairs(nSample, chunkSize)
	_ = traverse.Limit(parallelism).Each(len(chunks), func(c int) error {
		chunk := &chunks[c]
		chunk.dists = make([]float64, chunk.n)
		i, j := chunk.i, chunk.j
		for k := 0; k < chunk.n; k++ {
			chunk.dists[k] = PairDistance(s[i], s[j])
			i, j = nextPair(i, j, nSample)
		}
		return nil
	})
	for _, chunk := range chunks {
		i, j := chunk.i, chunk.j
		for _, d := range chunk.dists {
			m.setPair(i, j, d)
			i, j = nextPair(i, j, nSample)
		}
	}
	return m
}

func workers(parallelism int) int {
	if parallelism < 1 {
		return 1
	}
	return parallelism
}
