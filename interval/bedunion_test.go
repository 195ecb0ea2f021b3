package interval

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testBED = `track name=test
chr1	2488104	2488172
chr1	2488150	2488200
chr1	2489165	2489273
chr1	2489273	2489300
chr2	100	100
chr3	0	10
`

func TestLoadSortedBEDIntervals(t *testing.T) {
	u, err := NewBEDUnion(strings.NewReader(testBED), NewBEDOpts{})
	assert.NoError(t, err)
	want := map[string][]PosType{
		"chr1": {2488104, 2488200, 2489165, 2489300},
		"chr2": {},
		"chr3": {0, 10},
	}
	if !reflect.DeepEqual(u.nameMap, want) {
		t.Errorf("Wanted: %v  Got: %v", want, u.nameMap)
	}
	expect.EQ(t, u.TotalBases(), (2488200-2488104)+(2489300-2489165)+10)

	u, err = NewBEDUnion(strings.NewReader("chr1\t1\t10\n"), NewBEDOpts{OneBasedInput: true})
	assert.NoError(t, err)
	expect.True(t, u.ContainsByName("chr1", 0))
	expect.True(t, u.ContainsByName("chr1", 9))
	expect.False(t, u.ContainsByName("chr1", 10))
}

func TestBEDErrors(t *testing.T) {
	for _, bed := range []string{
		"chr1\t10\n",
		"chr1\tx\t10\n",
		"chr1\t10\t5\n",
		"chr1\t10\t20\nchr1\t5\t8\n",
		"chr1\t10\t20\nchr2\t5\t8\nchr1\t30\t40\n",
	} {
		_, err := NewBEDUnion(strings.NewReader(bed), NewBEDOpts{})
		expect.NotNil(t, err, "bed %q", bed)
	}
}

func TestContainsByID(t *testing.T) {
	h, err := bcf.ParseHeader(bcf.GenotypeHeaderText(
		[]bcf.Contig{{Name: "chr1"}, {Name: "chr2"}, {Name: "chr3"}}, []string{"s"}))
	assert.NoError(t, err)
	u, err := NewBEDUnionFromEntries([]Entry{
		{"chr1", 10, 20},
		{"chr1", 30, 40},
		{"chr3", 0, 5},
	}, NewBEDOpts{Header: h})
	assert.NoError(t, err)

	expect.False(t, u.ContainsByID(0, 9))
	expect.True(t, u.ContainsByID(0, 10))
	expect.True(t, u.ContainsByID(0, 19))
	expect.False(t, u.ContainsByID(0, 20))
	expect.True(t, u.ContainsByID(0, 35))
	expect.False(t, u.ContainsByID(1, 15))
	expect.True(t, u.ContainsByID(2, 0))
	expect.False(t, u.ContainsByID(5, 0))

	expect.True(t, u.IntersectsByID(0, 5, 11))
	expect.False(t, u.IntersectsByID(0, 20, 30))
	expect.True(t, u.IntersectsByID(0, 20, 31))
	expect.True(t, u.IntersectsByID(0, 0, 100))
	expect.False(t, u.IntersectsByID(0, 40, 100))

	expect.True(t, u.MentionsID(0))
	expect.False(t, u.MentionsID(1))
}

func TestBEDFromPath(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpdir, "x.bed")
	assert.NoError(t, ioutil.WriteFile(path, []byte(testBED), 0644))
	u, err := NewBEDUnionFromPath(vcontext.Background(), path, NewBEDOpts{})
	assert.NoError(t, err)
	expect.True(t, u.ContainsByName("chr1", 2488104))

	_, err = NewBEDUnionFromPath(vcontext.Background(), filepath.Join(tmpdir, "missing.bed"), NewBEDOpts{})
	expect.NotNil(t, err)
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		region  string
		chrName string
		start0  PosType
		end     PosType
	}{
		{"chr1:1-1000", "chr1", 0, 1000},
		{"chr1:1000", "chr1", 999, 1000},
		{"chr1:5-5", "chr1", 4, 5},
		{"chr1", "chr1", 0, math.MaxInt32 - 1},
	}
	for _, tt := range tests {
		result, err := ParseRegionString(tt.region)
		expect.NoError(t, err)
		expect.EQ(t, result.ChrName, tt.chrName)
		expect.EQ(t, result.Start0, tt.start0)
		expect.EQ(t, result.End, tt.end)
	}
	for _, bad := range []string{"", ":1-5", "chr1:0", "chr1:x", "chr1:10-5", "chr1:1-2147483647", "chr1:5-y"} {
		_, err := ParseRegionString(bad)
		expect.NotNil(t, err, "region %q", bad)
	}
}

func TestParseRegionList(t *testing.T) {
	entries, err := ParseRegionList("chr1,chr2:5-10  chr3:7")
	assert.NoError(t, err)
	expect.EQ(t, entries, []Entry{
		{"chr1", 0, math.MaxInt32 - 1},
		{"chr2", 4, 10},
		{"chr3", 6, 7},
	})
	expect.True(t, entries[0].WholeContig())
	expect.EQ(t, entries[1].String(), "chr2:5-10")
	expect.EQ(t, entries[0].String(), "chr1")

	_, err = ParseRegionList("chr1,chr2:0")
	expect.NotNil(t, err)
	entries, err = ParseRegionList("")
	assert.NoError(t, err)
	expect.EQ(t, len(entries), 0)
}
