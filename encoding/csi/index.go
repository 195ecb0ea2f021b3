// Package csi reads, writes and builds CSI (coordinate-sorted index) files,
// the index format used for BCF.  A CSI file is BGZF-compressed and holds,
// for each reference, a binning index whose bins carry a linear "loffset"
// in place of the separate BAI linear index.
//
// See https://samtools.github.io/hts-specs/CSIv1.pdf.
package csi

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/grailbio/bcfdist/encoding/bgzf"
	hbgzf "github.com/grailbio/hts/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	// DefaultMinShift is the leaf bin width (1<<14 = 16kbp) used by htslib.
	DefaultMinShift = 14
	// DefaultDepth is the number of binning levels below the root.
	DefaultDepth = 5
)

// Magic is the leading four bytes of a decompressed CSI file.
var Magic = [4]byte{'C', 'S', 'I', 1}

// ErrInvalid is the cause of every error reported for malformed CSI data.
var ErrInvalid = errors.New("invalid CSI")

// Index represents the content of a .csi file.
type Index struct {
	MinShift int32
	Depth    int32
	Aux      []byte
	Refs     []Reference
	// NoCoordCount is the number of records without a reference, when the
	// file records it.
	NoCoordCount *uint64
}

// Reference is the binning index of one contig.
type Reference struct {
	Bins []Bin
	// Meta is nil when the reference has no metadata pseudo-bin.
	Meta *Metadata
}

// Bin is one bin of the binning index.
type Bin struct {
	BinNum uint32
	// LOffset is the virtual offset of the first record overlapping the
	// leftmost leaf window covered by the bin.
	LOffset hbgzf.Offset
	Chunks  []Chunk
}

// Chunk is a contiguous extent of records, as [Begin, End) virtual offsets.
type Chunk struct {
	Begin hbgzf.Offset
	End   hbgzf.Offset
}

// Metadata is the content of the metadata pseudo-bin.
type Metadata struct {
	UnmappedBegin uint64
	UnmappedEnd   uint64
	MappedCount   uint64
	UnmappedCount uint64
}

// ReadIndex parses a (BGZF-compressed) CSI file from r.
func ReadIndex(r io.Reader) (*Index, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalid, "decompressing: %v", err)
	}
	defer gz.Close() // nolint: errcheck
	idx, err := readIndex(gz)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrInvalid, "truncated index")
		}
		if errors.Cause(err) != ErrInvalid {
			return nil, errors.Wrap(ErrInvalid, err.Error())
		}
		return nil, err
	}
	return idx, nil
}

func readIndex(r io.Reader) (*Index, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, errors.Wrapf(ErrInvalid, "bad magic %q", magic[:])
	}
	i := &Index{}
	var lAux int32
	for _, v := range []interface{}{&i.MinShift, &i.Depth, &lAux} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	if i.MinShift < 0 || i.Depth < 0 || i.MinShift+3*i.Depth > 62 {
		return nil, errors.Wrapf(ErrInvalid, "bad min_shift %d / depth %d", i.MinShift, i.Depth)
	}
	if lAux < 0 {
		return nil, errors.Wrapf(ErrInvalid, "negative l_aux %d", lAux)
	}
	i.Aux = make([]byte, lAux)
	if _, err := io.ReadFull(r, i.Aux); err != nil {
		return nil, err
	}
	var refCount int32
	if err := binary.Read(r, binary.LittleEndian, &refCount); err != nil {
		return nil, err
	}
	if refCount < 0 {
		return nil, errors.Wrapf(ErrInvalid, "negative n_ref %d", refCount)
	}
	metaBin := binLimit(uint(i.Depth)) + 1
	i.Refs = make([]Reference, 0, capHint(refCount))

	for refID := int32(0); refID < refCount; refID++ {
		var binCount int32
		if err := binary.Read(r, binary.LittleEndian, &binCount); err != nil {
			return nil, err
		}
		if binCount < 0 {
			return nil, errors.Wrapf(ErrInvalid, "ref %d: negative n_bin %d", refID, binCount)
		}
		ref := Reference{Bins: make([]Bin, 0, capHint(binCount))}
		for b := int32(0); b < binCount; b++ {
			var (
				binNum     uint32
				loffset    uint64
				chunkCount int32
			)
			for _, v := range []interface{}{&binNum, &loffset, &chunkCount} {
				if err := binary.Read(r, binary.LittleEndian, v); err != nil {
					return nil, err
				}
			}
			if chunkCount < 0 {
				return nil, errors.Wrapf(ErrInvalid, "ref %d bin %d: negative n_chunk %d", refID, binNum, chunkCount)
			}
			bin := Bin{
				BinNum:  binNum,
				LOffset: toOffset(loffset),
				Chunks:  make([]Chunk, 0, capHint(chunkCount)),
			}
			for c := int32(0); c < chunkCount; c++ {
				var beg, end uint64
				if err := binary.Read(r, binary.LittleEndian, &beg); err != nil {
					return nil, err
				}
				if err := binary.Read(r, binary.LittleEndian, &end); err != nil {
					return nil, err
				}
				bin.Chunks = append(bin.Chunks, Chunk{Begin: toOffset(beg), End: toOffset(end)})
			}
			if binNum == metaBin {
				// The metadata pseudo-bin goes in ref.Meta instead of ref.Bins.
				if len(bin.Chunks) != 2 {
					return nil, errors.Wrapf(ErrInvalid, "ref %d: metadata bin has %d chunks, should have 2", refID, len(bin.Chunks))
				}
				ref.Meta = &Metadata{
					UnmappedBegin: fromOffset(bin.Chunks[0].Begin),
					UnmappedEnd:   fromOffset(bin.Chunks[0].End),
					MappedCount:   fromOffset(bin.Chunks[1].Begin),
					UnmappedCount: fromOffset(bin.Chunks[1].End),
				}
			} else {
				ref.Bins = append(ref.Bins, bin)
			}
		}
		sort.Slice(ref.Bins, func(a, b int) bool { return ref.Bins[a].BinNum < ref.Bins[b].BinNum })
		i.Refs = append(i.Refs, ref)
	}

	var noCoord uint64
	if err := binary.Read(r, binary.LittleEndian, &noCoord); err == nil {
		i.NoCoordCount = &noCoord
	} else if err != io.EOF {
		return nil, err
	}
	return i, nil
}

// capHint bounds a preallocation taken from an untrusted count.
func capHint(n int32) int {
	if n > 1<<12 {
		return 1 << 12
	}
	return int(n)
}

// NumRefs returns the number of references in the index.
func (i *Index) NumRefs() int {
	return len(i.Refs)
}

// MappedCount returns the number of records on the reference, as recorded in
// its metadata pseudo-bin.  ok is false if there is no such bin.
func (i *Index) MappedCount(refID int) (n uint64, ok bool) {
	if refID < 0 || refID >= len(i.Refs) || i.Refs[refID].Meta == nil {
		return 0, false
	}
	return i.Refs[refID].Meta.MappedCount, true
}

// findBin returns the bin with the given number, or nil.
func (ref *Reference) findBin(binNum uint32) *Bin {
	j := sort.Search(len(ref.Bins), func(k int) bool { return ref.Bins[k].BinNum >= binNum })
	if j < len(ref.Bins) && ref.Bins[j].BinNum == binNum {
		return &ref.Bins[j]
	}
	return nil
}

// Chunks returns the merged, sorted list of chunks that may contain records
// on refID overlapping [beg, end).  It returns nil for an unknown refID or a
// reference without bins.
func (i *Index) Chunks(refID int, beg, end int64) []Chunk {
	if refID < 0 || refID >= len(i.Refs) {
		return nil
	}
	ref := &i.Refs[refID]
	if len(ref.Bins) == 0 {
		return nil
	}
	minShift, depth := uint(i.MinShift), uint(i.Depth)
	if beg < 0 {
		beg = 0
	}

	// The lower bound comes from the loffset of the leaf bin holding beg,
	// or of the nearest populated bin to its left or above it.
	var minOff uint64
	leaf := binFirst(depth) + uint32(beg>>minShift)
	if beg >= maxPos(minShift, depth) {
		leaf = 0
	}
	for b := leaf; ; {
		if bin := ref.findBin(b); bin != nil {
			minOff = fromOffset(bin.LOffset)
			break
		}
		if b == 0 {
			break
		}
		if first := (binParent(b) << 3) + 1; b > first {
			b--
		} else {
			b = binParent(b)
		}
	}

	var chunks []Chunk
	for _, b := range Reg2Bins(beg, end, minShift, depth) {
		bin := ref.findBin(b)
		if bin == nil {
			continue
		}
		for _, c := range bin.Chunks {
			if fromOffset(c.End) > minOff {
				chunks = append(chunks, c)
			}
		}
	}
	if len(chunks) == 0 {
		return nil
	}
	sort.Slice(chunks, func(a, b int) bool {
		return fromOffset(chunks[a].Begin) < fromOffset(chunks[b].Begin)
	})
	merged := chunks[:1]
	for _, c := range chunks[1:] {
		last := &merged[len(merged)-1]
		if fromOffset(c.Begin) <= fromOffset(last.End) {
			if fromOffset(c.End) > fromOffset(last.End) {
				last.End = c.End
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// Write serializes the index to w in BGZF-compressed form.
func (i *Index) Write(w io.Writer) error {
	bg, err := bgzf.NewWriter(w, gzip.DefaultCompression)
	if err != nil {
		return err
	}
	put := func(v interface{}) {
		if err == nil {
			err = binary.Write(bg, binary.LittleEndian, v)
		}
	}
	put(Magic)
	put(i.MinShift)
	put(i.Depth)
	put(int32(len(i.Aux)))
	put(i.Aux)
	put(int32(len(i.Refs)))
	metaBin := binLimit(uint(i.Depth)) + 1
	for _, ref := range i.Refs {
		n := len(ref.Bins)
		if ref.Meta != nil {
			n++
		}
		put(int32(n))
		for _, bin := range ref.Bins {
			put(bin.BinNum)
			put(fromOffset(bin.LOffset))
			put(int32(len(bin.Chunks)))
			for _, c := range bin.Chunks {
				put(fromOffset(c.Begin))
				put(fromOffset(c.End))
			}
		}
		if m := ref.Meta; m != nil {
			put(metaBin)
			put(uint64(0))
			put(int32(2))
			put([4]uint64{m.UnmappedBegin, m.UnmappedEnd, m.MappedCount, m.UnmappedCount})
		}
	}
	if i.NoCoordCount != nil {
		put(*i.NoCoordCount)
	}
	if err != nil {
		return err
	}
	return bg.Close()
}

func toOffset(voffset uint64) hbgzf.Offset {
	return hbgzf.Offset{
		File:  int64(voffset >> 16),
		Block: uint16(voffset),
	}
}

func fromOffset(offset hbgzf.Offset) uint64 {
	return uint64(offset.File<<16) | uint64(offset.Block)
}
