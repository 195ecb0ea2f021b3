package csi

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/bcfdist/encoding/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type site struct {
	chrom int32
	pos   int32
}

// writeBCF encodes one biallelic record per site, with small blocks so that
// the records span many BGZF blocks.
func writeBCF(t *testing.T, sites []site) []byte {
	contigs := []bcf.Contig{{Name: "chr1", Length: 1 << 20}, {Name: "chr2", Length: 1 << 20}, {Name: "chr3"}}
	h, err := bcf.ParseHeader(bcf.GenotypeHeaderText(contigs, []string{"a", "b"}))
	require.NoError(t, err)
	gtKey, _ := h.StringID("GT")
	var buf bytes.Buffer
	w, err := bcf.NewWriter(&buf, h, 1)
	require.NoError(t, err)
	for _, s := range sites {
		rec, err := bcf.NewRecord(s.chrom, s.pos, []string{"ACGT", "A"}, 2,
			bcf.GenotypeField(gtKey, [][]int{{0, 1}, {1, 1}}, false))
		require.NoError(t, err)
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testSites() []site {
	var sites []site
	for i := 0; i < 3000; i++ {
		sites = append(sites, site{0, int32(i * 97)})
	}
	for i := 0; i < 500; i++ {
		sites = append(sites, site{1, int32(100000 + i*3)})
	}
	return sites
}

// query returns the positions of records on refID overlapping [beg, end),
// using the index to seek.
func query(t *testing.T, data []byte, idx *Index, refID int, beg, end int64) []int32 {
	chunks := idx.Chunks(refID, beg, end)
	if len(chunks) == 0 {
		return nil
	}
	r, err := bcf.NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	defer r.Close() // nolint: errcheck
	require.NoError(t, r.Seek(chunks[0].Begin))
	var got []int32
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if int(rec.Chrom) != refID || int64(rec.Pos) >= end {
			break
		}
		if int64(rec.End()) > beg {
			got = append(got, rec.Pos)
		}
	}
	return got
}

func bruteForce(sites []site, refID int, beg, end int64) []int32 {
	var want []int32
	for _, s := range sites {
		if int(s.chrom) == refID && int64(s.pos) < end && int64(s.pos)+4 > beg {
			want = append(want, s.pos)
		}
	}
	return want
}

func TestReg2Bin(t *testing.T) {
	assert.Equal(t, uint32(4681), Reg2Bin(0, 1, 14, 5))
	assert.Equal(t, uint32(4681), Reg2Bin(0, 1<<14, 14, 5))
	assert.Equal(t, uint32(4682), Reg2Bin(1<<14, 1<<14+1, 14, 5))
	assert.Equal(t, uint32(585), Reg2Bin(0, 1<<14+1, 14, 5))
	assert.Equal(t, uint32(0), Reg2Bin(0, 1<<29, 14, 5))
	assert.Equal(t, uint32(4681), Reg2Bin(5, 5, 14, 5))
	assert.Equal(t, []uint32{0, 1, 9, 73, 585, 4681}, Reg2Bins(0, 1, 14, 5))
	assert.Nil(t, Reg2Bins(10, 10, 14, 5))
	assert.Len(t, Reg2Bins(0, 1<<15, 14, 5), 7)
}

func TestBinHelpers(t *testing.T) {
	assert.Equal(t, uint32(37449), binLimit(5))
	assert.Equal(t, uint(5), binLevel(4681))
	assert.Equal(t, uint(0), binLevel(0))
	assert.Equal(t, 0, binBottom(0, 5))
	assert.Equal(t, 8, binBottom(586, 5))
	assert.Equal(t, uint32(585), binParent(4681))
}

func TestBuildAndQuery(t *testing.T) {
	sites := testSites()
	data := writeBCF(t, sites)
	idx, err := Build(bytes.NewReader(data), DefaultMinShift, DefaultDepth, 1)
	require.NoError(t, err)
	require.Equal(t, 3, idx.NumRefs())

	n, ok := idx.MappedCount(0)
	assert.True(t, ok)
	assert.Equal(t, uint64(3000), n)
	n, ok = idx.MappedCount(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(500), n)
	_, ok = idx.MappedCount(2)
	assert.False(t, ok)
	_, ok = idx.MappedCount(7)
	assert.False(t, ok)

	for _, q := range []struct {
		ref      int
		beg, end int64
	}{
		{0, 0, 1 << 29},
		{0, 0, 1},
		{0, 50000, 60000},
		{0, 16380, 16390},
		{0, 290000, 300000},
		{0, 1 << 20, 1 << 21},
		{1, 0, 1 << 29},
		{1, 100500, 100600},
		{2, 0, 1 << 29},
	} {
		got := query(t, data, idx, q.ref, q.beg, q.end)
		assert.Equal(t, bruteForce(sites, q.ref, q.beg, q.end), got, "query %+v", q)
	}
	assert.Nil(t, idx.Chunks(2, 0, 1<<29))
	assert.Nil(t, idx.Chunks(5, 0, 1<<29))
}

func TestWriteReadRoundTrip(t *testing.T) {
	data := writeBCF(t, testSites())
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, bytes.NewReader(data), DefaultMinShift, DefaultDepth, 1))
	want, err := Build(bytes.NewReader(data), DefaultMinShift, DefaultDepth, 1)
	require.NoError(t, err)

	got, err := ReadIndex(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, want.MinShift, got.MinShift)
	assert.Equal(t, want.Depth, got.Depth)
	require.Equal(t, len(want.Refs), len(got.Refs))
	for i := range want.Refs {
		assert.Equal(t, len(want.Refs[i].Bins), len(got.Refs[i].Bins), "ref %d", i)
		for j := range want.Refs[i].Bins {
			assert.Equal(t, want.Refs[i].Bins[j].BinNum, got.Refs[i].Bins[j].BinNum)
			assert.Equal(t, want.Refs[i].Bins[j].LOffset, got.Refs[i].Bins[j].LOffset)
			assert.Equal(t, want.Refs[i].Bins[j].Chunks, got.Refs[i].Bins[j].Chunks)
		}
		assert.Equal(t, want.Refs[i].Meta, got.Refs[i].Meta, "ref %d", i)
	}
	require.NotNil(t, got.NoCoordCount)
	assert.Equal(t, uint64(0), *got.NoCoordCount)
}

func TestUnsorted(t *testing.T) {
	data := writeBCF(t, []site{{0, 100}, {0, 50}})
	_, err := Build(bytes.NewReader(data), DefaultMinShift, DefaultDepth, 1)
	assert.Error(t, err)

	data = writeBCF(t, []site{{1, 100}, {0, 500}})
	_, err = Build(bytes.NewReader(data), DefaultMinShift, DefaultDepth, 1)
	assert.Error(t, err)
}

func compress(t *testing.T, raw []byte) []byte {
	var buf bytes.Buffer
	w, err := bgzf.NewWriter(&buf, gzip.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReadIndexHandwritten(t *testing.T) {
	var raw bytes.Buffer
	le := func(v interface{}) { require.NoError(t, binary.Write(&raw, binary.LittleEndian, v)) }
	raw.Write(Magic[:])
	le(int32(14))
	le(int32(5))
	le(int32(3))
	raw.WriteString("aux")
	le(int32(1)) // n_ref
	le(int32(2)) // n_bin
	le(uint32(4681))
	le(uint64(1 << 16))
	le(int32(1))
	le(uint64(1 << 16))
	le(uint64(2<<16 | 10))
	le(uint32(37450))
	le(uint64(0))
	le(int32(2))
	le([4]uint64{1 << 16, 2<<16 | 10, 42, 0})

	idx, err := ReadIndex(bytes.NewReader(compress(t, raw.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, []byte("aux"), idx.Aux)
	assert.Nil(t, idx.NoCoordCount)
	require.Len(t, idx.Refs[0].Bins, 1)
	n, ok := idx.MappedCount(0)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)
	chunks := idx.Chunks(0, 0, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, toOffset(1<<16), chunks[0].Begin)
	assert.Equal(t, toOffset(2<<16|10), chunks[0].End)

	// Truncating anywhere must fail cleanly.
	for _, n := range []int{0, 3, 10, 20, 40} {
		_, err := ReadIndex(bytes.NewReader(compress(t, raw.Bytes()[:n])))
		assert.Error(t, err, "truncated at %d", n)
	}
	_, err = ReadIndex(bytes.NewReader(compress(t, []byte("BAI\x01\x00\x00\x00\x00"))))
	assert.Error(t, err)
	_, err = ReadIndex(bytes.NewReader([]byte("not gzip")))
	assert.Error(t, err)
}
