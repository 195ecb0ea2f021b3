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
	"fmt"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testGTKey = 4

type sliceIterator struct {
	recs []*bcf.Record
	cur  *bcf.Record
	err  error
}

func (it *sliceIterator) Scan() bool {
	if len(it.recs) == 0 {
		return false
	}
	it.cur, it.recs = it.recs[0], it.recs[1:]
	return true
}

func (it *sliceIterator) Record() *bcf.Record { return it.cur }
func (it *sliceIterator) Err() error          { return it.err }

func gtRecord(t *testing.T, pos int32, alleles []string, calls [][]int) *bcf.Record {
	rec, err := bcf.NewRecord(0, pos, alleles, len(calls), bcf.GenotypeField(testGTKey, calls, false))
	assert.NoError(t, err)
	return rec
}

var biallelic = []string{"A", "G"}

func TestAggregate(t *testing.T) {
	iter := &sliceIterator{recs: []*bcf.Record{
		gtRecord(t, 10, biallelic, [][]int{{0, 0}, {0, 1}}),
		gtRecord(t, 20, []string{"A", "G", "T"}, [][]int{{0, 2}, {1, 2}}),
		gtRecord(t, 30, biallelic, [][]int{{1, 1}, {-1, 1}}),
		gtRecord(t, 40, []string{"A"}, [][]int{{0, 0}, {0, 0}}),
		gtRecord(t, 50, biallelic, [][]int{{0, 2}, {1, 0}}),
	}}
	s, stats, err := Aggregate(iter, testGTKey, 2, 1)
	assert.NoError(t, err)
	expect.EQ(t, stats, AggregateStats{Records: 5, Skipped: 2})
	expect.EQ(t, s, Series{
		{Hom0, Hom2, Excluded},
		{Het, Missing, Het},
	})
}

func TestAggregateEmpty(t *testing.T) {
	s, stats, err := Aggregate(&sliceIterator{}, testGTKey, 3, 0)
	assert.NoError(t, err)
	expect.EQ(t, stats, AggregateStats{})
	expect.EQ(t, len(s), 3)
	expect.EQ(t, s.Len(), 0)
}

func TestAggregateSitesOnly(t *testing.T) {
	var recs []*bcf.Record
	for _, alleles := range [][]string{biallelic, {"A", "C", "G"}, biallelic} {
		rec, err := bcf.NewRecord(0, 7, alleles, 0)
		assert.NoError(t, err)
		recs = append(recs, rec)
	}
	s, stats, err := Aggregate(&sliceIterator{recs: recs}, testGTKey, 0, 0)
	assert.NoError(t, err)
	expect.EQ(t, stats, AggregateStats{Records: 3, Skipped: 1})
	expect.EQ(t, len(s), 0)
}

func TestAggregateFilter(t *testing.T) {
	iter := &sliceIterator{recs: []*bcf.Record{
		gtRecord(t, 10, biallelic, [][]int{{0, 1}}),
		gtRecord(t, 20, biallelic, [][]int{{1, 1}}),
		gtRecord(t, 30, []string{"A", "C", "T"}, [][]int{{1, 1}}),
	}}
	s, stats, err := aggregate(iter, testGTKey, 1, 4, func(rec *bcf.Record) bool { return rec.Pos != 20 })
	assert.NoError(t, err)
	expect.EQ(t, stats, AggregateStats{Records: 3, Skipped: 1, OutsideBED: 1})
	expect.EQ(t, s, Series{{Het}})
}

func TestAggregateErrors(t *testing.T) {
	noGT, err := bcf.NewRecord(0, 5, biallelic, 2)
	assert.NoError(t, err)
	badGT, err := bcf.NewRecord(0, 5, biallelic, 1, bcf.Field{Key: testGTKey, Type: bcf.TypeInt8, PerSample: 2, Data: []byte{0x02, 0xfe}})
	assert.NoError(t, err)

	tests := []struct {
		recs    []*bcf.Record
		gtKey   int
		nSample int
		kind    errors.Kind
	}{
		// Biallelic record without GT.
		{[]*bcf.Record{noGT}, testGTKey, 2, errors.Invalid},
		// GT is not declared in the header.
		{[]*bcf.Record{gtRecord(t, 1, biallelic, [][]int{{0, 1}})}, -1, 1, errors.Invalid},
		// Sample count differs from the header.
		{[]*bcf.Record{gtRecord(t, 1, biallelic, [][]int{{0, 1}})}, testGTKey, 2, errors.Invalid},
		{[]*bcf.Record{badGT}, testGTKey, 1, errors.Integrity},
	}
	for i, test := range tests {
		_, _, err := Aggregate(&sliceIterator{recs: test.recs}, test.gtKey, test.nSample, 0)
		assert.True(t, err != nil, "test %d", i)
		expect.True(t, errors.Is(test.kind, err), "test %d: %v", i, err)
	}

	// A GT-less record that is not biallelic is skipped, not rejected.
	multi, err := bcf.NewRecord(0, 5, []string{"A", "C", "G"}, 2)
	assert.NoError(t, err)
	_, stats, err := Aggregate(&sliceIterator{recs: []*bcf.Record{multi}}, testGTKey, 2, 0)
	assert.NoError(t, err)
	expect.EQ(t, stats.Skipped, 1)

	// Iterator errors are passed through.
	ioErr := fmt.Errorf("disk on fire")
	_, _, err = Aggregate(&sliceIterator{err: ioErr}, testGTKey, 2, 0)
	expect.EQ(t, err, ioErr)
}

func TestSeriesMerge(t *testing.T) {
	a := Series{{Hom0}, {Het}}
	b := Series{{Hom2, Missing}, {Hom0, Hom0}}
	a = a.Merge(b)
	expect.EQ(t, a, Series{{Hom0, Hom2, Missing}, {Het, Hom0, Hom0}})
	expect.EQ(t, a.Len(), 3)

	parts := []Series{
		{{Het}, {Hom0}},
		nil,
		NewSeries(2, 8),
		{{Hom2, Excluded}, {Missing, Het}},
	}
	s := Concat(parts, 2)
	expect.EQ(t, s, Series{{Het, Hom2, Excluded}, {Hom0, Missing, Het}})
	expect.EQ(t, Concat(nil, 2).Len(), 0)
	expect.EQ(t, len(Concat(nil, 2)), 2)
}

func TestSiteMask(t *testing.T) {
	s := Series{
		{Hom0, Excluded, Het, Hom2, Hom0},
		{Het, Hom0, Het, Excluded, Missing},
		{Hom2, Excluded, Hom0, Hom0, Het},
	}
	for _, parallelism := range []int{0, 1, 4} {
		m := NewSiteMask(s, parallelism)
		expect.EQ(t, m.NumExcluded(), 2)
		expect.True(t, m.Valid(0))
		expect.False(t, m.Valid(1))
		expect.False(t, m.Valid(3))
		expect.EQ(t, m.Apply(s, parallelism), Series{
			{Hom0, Het, Hom0},
			{Het, Het, Missing},
			{Hom2, Hom0, Het},
		})
	}
	// The input is left alone.
	expect.EQ(t, s[1][3], Excluded)

	clean := Series{{Hom0, Het}, {Missing, Hom2}}
	m := NewSiteMask(clean, 2)
	expect.EQ(t, m.NumExcluded(), 0)
	expect.EQ(t, m.Apply(clean, 2), clean)

	m = NewSiteMask(Series{}, 2)
	expect.EQ(t, m.NumExcluded(), 0)
}
