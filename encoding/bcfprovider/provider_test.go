package bcfprovider_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/bcfdist/encoding/bcfprovider"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}

var testContigs = []bcf.Contig{{Name: "chr1", Length: 300000}, {Name: "chr2", Length: 1000}, {Name: "chr3", Length: 1000}}

func testSites() []bcfprovider.TestSite {
	var sites []bcfprovider.TestSite
	for i := 0; i < 2000; i++ {
		sites = append(sites, bcfprovider.TestSite{Chrom: 0, Pos: int32(i * 131), Alleles: []string{"A", "C"}, GT: [][]int{{0, 1}, {1, 1}}})
	}
	for i := 0; i < 10; i++ {
		sites = append(sites, bcfprovider.TestSite{Chrom: 1, Pos: int32(i * 10), Alleles: []string{"G", "T"}, GT: [][]int{{0, 0}, {0, 1}}})
	}
	return sites
}

func setup(t *testing.T) (string, func()) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	path := filepath.Join(tmpDir, "test.bcf")
	require.NoError(t, bcfprovider.WriteTestFile(vcontext.Background(), path, testContigs, []string{"a", "b"}, testSites()))
	return path, cleanup
}

func readRegion(t *testing.T, p *bcfprovider.Provider, r bcfprovider.Region) []int32 {
	iter := p.NewIterator(r)
	var got []int32
	for iter.Scan() {
		assert.Equal(t, int32(r.RefID), iter.Record().Chrom)
		got = append(got, iter.Record().Pos)
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	return got
}

func TestDefaultIndexPath(t *testing.T) {
	assert.Equal(t, "/x/y.bcf.csi", bcfprovider.DefaultIndexPath("/x/y.bcf"))
	assert.Equal(t, "s3://b/k/y.bcf.csi", bcfprovider.DefaultIndexPath("s3://b/k/y.bcf"))
	assert.Equal(t, "y.bcf.csi", bcfprovider.DefaultIndexPath("y"))
}

func TestWholeContigs(t *testing.T) {
	path, cleanup := setup(t)
	defer cleanup()
	p := &bcfprovider.Provider{Path: path}
	h, err := p.GetHeader()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, h.Samples)

	regions, err := p.Regions("")
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, bcfprovider.Region{RefID: 1, Name: "chr2", Start0: 0, End: bcfprovider.MaxEnd}, regions[1])
	assert.Equal(t, "chr2", regions[1].String())

	// Repeat to exercise iterator reuse.
	for rep := 0; rep < 3; rep++ {
		assert.Len(t, readRegion(t, p, regions[0]), 2000)
		assert.Equal(t, []int32{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}, readRegion(t, p, regions[1]))
		assert.Empty(t, readRegion(t, p, regions[2]))
	}
	assert.Equal(t, 2000, p.CapacityHint(0))
	assert.Equal(t, 10, p.CapacityHint(1))
	assert.Equal(t, 0, p.CapacityHint(2))
	require.NoError(t, p.Close())
}

func TestSubRegions(t *testing.T) {
	path, cleanup := setup(t)
	defer cleanup()
	p := &bcfprovider.Provider{Path: path}
	regions, err := p.Regions("chr1:1001-2000, chr2:15-41 chr1:132")
	require.NoError(t, err)
	require.Len(t, regions, 3)

	var want []int32
	for i := 0; i < 2000; i++ {
		if pos := int32(i * 131); pos >= 1000 && pos < 2000 {
			want = append(want, pos)
		}
	}
	assert.Equal(t, want, readRegion(t, p, regions[0]))
	assert.Equal(t, []int32{20, 30, 40}, readRegion(t, p, regions[1]))
	assert.Equal(t, []int32{131}, readRegion(t, p, regions[2]))
	require.NoError(t, p.Close())
}

func TestConcurrentIterators(t *testing.T) {
	path, cleanup := setup(t)
	defer cleanup()
	p := &bcfprovider.Provider{Path: path}
	regions, err := p.Regions("")
	require.NoError(t, err)
	var wg sync.WaitGroup
	counts := make([]int, 8)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			iter := p.NewIterator(regions[i%2])
			for iter.Scan() {
				counts[i]++
			}
			assert.NoError(t, iter.Close())
		}(i)
	}
	wg.Wait()
	for i, n := range counts {
		if i%2 == 0 {
			assert.Equal(t, 2000, n)
		} else {
			assert.Equal(t, 10, n)
		}
	}
	require.NoError(t, p.Close())
}

func TestRegionErrors(t *testing.T) {
	path, cleanup := setup(t)
	defer cleanup()
	p := &bcfprovider.Provider{Path: path}

	_, err := p.Regions("chrX")
	require.Error(t, err)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)

	_, err = p.Regions("chr1:0-5")
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	iter := p.NewIterator(bcfprovider.Region{RefID: 7, Name: "chr8", End: 10})
	assert.False(t, iter.Scan())
	err = iter.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	require.NoError(t, p.Close())
}

func TestMissingFiles(t *testing.T) {
	path, cleanup := setup(t)
	defer cleanup()

	p := &bcfprovider.Provider{Path: path, Index: path + ".nope"}
	_, err := p.GetIndex()
	require.Error(t, err)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)

	p = &bcfprovider.Provider{Path: filepath.Join(filepath.Dir(path), "absent.bcf")}
	_, err = p.GetHeader()
	require.Error(t, err)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)

	// A BCF file in place of its index is a format error.
	p = &bcfprovider.Provider{Path: path, Index: path}
	_, err = p.GetIndex()
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestRecordsPastContigLength(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "short.bcf")
	sites := []bcfprovider.TestSite{
		{Chrom: 2, Pos: 100, Alleles: []string{"A", "C"}, GT: [][]int{{0, 1}}},
		{Chrom: 2, Pos: 1500, Alleles: []string{"A", "C"}, GT: [][]int{{1, 1}}},
	}
	require.NoError(t, bcfprovider.WriteTestFile(vcontext.Background(), path, testContigs, []string{"a"}, sites))
	p := &bcfprovider.Provider{Path: path}
	regions, err := p.Regions("chr3")
	require.NoError(t, err)
	assert.Equal(t, []int32{100, 1500}, readRegion(t, p, regions[0]))
	require.NoError(t, p.Close())
}

func TestRecordsBelongToStartRegion(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "del.bcf")
	sites := []bcfprovider.TestSite{
		{Chrom: 0, Pos: 100, Alleles: []string{"A", "C"}, GT: [][]int{{0, 1}}},
		// Spans [29998, 30004).
		{Chrom: 0, Pos: 29998, Alleles: []string{"ACGTAC", "A"}, GT: [][]int{{1, 1}}},
		{Chrom: 0, Pos: 30010, Alleles: []string{"A", "C"}, GT: [][]int{{0, 0}}},
	}
	require.NoError(t, bcfprovider.WriteTestFile(vcontext.Background(), path, testContigs, []string{"a"}, sites))
	p := &bcfprovider.Provider{Path: path}
	regions, err := p.Regions("chr1:1-30000,chr1:30001-40000")
	require.NoError(t, err)
	assert.Equal(t, []int32{100, 29998}, readRegion(t, p, regions[0]))
	assert.Equal(t, []int32{30010}, readRegion(t, p, regions[1]))
	require.NoError(t, p.Close())
}

func TestDisjoint(t *testing.T) {
	r := func(refID int, start0, end int64) bcfprovider.Region {
		return bcfprovider.Region{RefID: refID, Name: fmt.Sprintf("chr%d", refID+1), Start0: start0, End: end}
	}
	assert.Nil(t, bcfprovider.Disjoint(nil))
	in := []bcfprovider.Region{
		r(1, 50, 60),
		r(0, 0, bcfprovider.MaxEnd),
		r(0, 100, 200),
		r(1, 10, 20),
		r(1, 20, 30),
		r(1, 15, 25),
		r(0, 0, bcfprovider.MaxEnd),
	}
	orig := append([]bcfprovider.Region(nil), in...)
	assert.Equal(t, []bcfprovider.Region{
		r(0, 0, bcfprovider.MaxEnd),
		r(1, 10, 30),
		r(1, 50, 60),
	}, bcfprovider.Disjoint(in))
	assert.Equal(t, orig, in)

	// Adjacent regions stay separate.
	adjacent := []bcfprovider.Region{r(0, 30000, 40000), r(0, 0, 30000)}
	assert.Equal(t, []bcfprovider.Region{r(0, 0, 30000), r(0, 30000, 40000)}, bcfprovider.Disjoint(adjacent))
}
