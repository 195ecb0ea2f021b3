package csi

import (
	"io"
	"sort"

	"github.com/grailbio/bcfdist/encoding/bcf"
	hbgzf "github.com/grailbio/hts/bgzf"
	"github.com/pkg/errors"
)

const unsetOffset = ^uint64(0)

// Builder accumulates a CSI index from records presented in file order.
type Builder struct {
	idx      *Index
	minShift uint
	depth    uint
	noCoord  uint64

	// State of the reference being indexed.
	started  bool
	refID    int32
	lastPos  int32
	bins     map[uint32]*Bin
	linear   []uint64
	saveBin  uint32
	saveOff  uint64
	lastOff  uint64
	firstOff uint64
	nMapped  uint64
}

// NewBuilder returns a Builder for an index over nRef references.
func NewBuilder(nRef, minShift, depth int) (*Builder, error) {
	if minShift <= 0 || depth <= 0 || minShift+3*depth > 62 {
		return nil, errors.Errorf("csi: bad min_shift %d / depth %d", minShift, depth)
	}
	return &Builder{
		idx: &Index{
			MinShift: int32(minShift),
			Depth:    int32(depth),
			Refs:     make([]Reference, nRef),
		},
		minShift: uint(minShift),
		depth:    uint(depth),
	}, nil
}

// Add records one record on refID spanning [beg, end) whose encoding
// occupies [chunk.Begin, chunk.End).  Records must be sorted by (refID, beg).
// A negative refID counts as a record without coordinates.
func (b *Builder) Add(refID int32, beg, end int64, chunk hbgzf.Chunk) error {
	if refID < 0 {
		b.noCoord++
		return nil
	}
	begOff, endOff := fromOffset(chunk.Begin), fromOffset(chunk.End)
	if beg < 0 {
		return errors.Wrapf(ErrInvalid, "negative position %d", beg)
	}
	if m := maxPos(b.minShift, b.depth); end > m {
		if beg >= m {
			return errors.Wrapf(ErrInvalid, "position %d exceeds index limit %d; use a larger min_shift or depth", beg, m)
		}
		end = m
	}
	if end <= beg {
		end = beg + 1
	}
	switch {
	case !b.started || refID != b.refID:
		if b.started {
			if refID < b.refID {
				return errors.Wrapf(ErrInvalid, "unsorted input: reference %d after %d", refID, b.refID)
			}
			b.finishRef()
		}
		b.started = true
		b.refID = refID
		b.bins = make(map[uint32]*Bin)
		b.linear = b.linear[:0]
		b.saveBin = Reg2Bin(beg, end, b.minShift, b.depth)
		b.saveOff = begOff
		b.firstOff = begOff
		b.nMapped = 0
	case int32(beg) < b.lastPos:
		return errors.Wrapf(ErrInvalid, "unsorted input: reference %d position %d after %d", refID, beg, b.lastPos)
	}

	bin := Reg2Bin(beg, end, b.minShift, b.depth)
	if bin != b.saveBin {
		b.addChunk(b.saveBin, b.saveOff, b.lastOff)
		b.saveBin = bin
		b.saveOff = begOff
	}
	for w := int(beg >> b.minShift); w <= int((end-1)>>b.minShift); w++ {
		for len(b.linear) <= w {
			b.linear = append(b.linear, unsetOffset)
		}
		if b.linear[w] == unsetOffset {
			b.linear[w] = begOff
		}
	}
	b.lastOff = endOff
	b.lastPos = int32(beg)
	b.nMapped++
	return nil
}

func (b *Builder) addChunk(binNum uint32, beg, end uint64) {
	bin := b.bins[binNum]
	if bin == nil {
		bin = &Bin{BinNum: binNum}
		b.bins[binNum] = bin
	}
	bin.Chunks = append(bin.Chunks, Chunk{Begin: toOffset(beg), End: toOffset(end)})
}

// finishRef flushes the pending chunk and stores the current reference.
func (b *Builder) finishRef() {
	b.addChunk(b.saveBin, b.saveOff, b.lastOff)
	// Windows before the first record take the first record's offset;
	// later gaps inherit the previous window's.
	prev := b.firstOff
	for w, off := range b.linear {
		if off == unsetOffset {
			b.linear[w] = prev
		} else {
			prev = off
		}
	}
	ref := Reference{
		Bins: make([]Bin, 0, len(b.bins)),
		Meta: &Metadata{
			UnmappedBegin: b.firstOff,
			UnmappedEnd:   b.lastOff,
			MappedCount:   b.nMapped,
		},
	}
	for _, bin := range b.bins {
		if w := binBottom(bin.BinNum, b.depth); w < len(b.linear) {
			bin.LOffset = toOffset(b.linear[w])
		}
		ref.Bins = append(ref.Bins, *bin)
	}
	sort.Slice(ref.Bins, func(i, j int) bool { return ref.Bins[i].BinNum < ref.Bins[j].BinNum })
	for int(b.refID) >= len(b.idx.Refs) {
		b.idx.Refs = append(b.idx.Refs, Reference{})
	}
	b.idx.Refs[b.refID] = ref
}

// Finish returns the completed index.  The Builder must not be used
// afterwards.
func (b *Builder) Finish() *Index {
	if b.started {
		b.finishRef()
		b.started = false
	}
	noCoord := b.noCoord
	b.idx.NoCoordCount = &noCoord
	return b.idx
}

// Build reads a BCF stream from r and returns its CSI index.  parallelism
// controls BGZF decompression.
func Build(r io.Reader, minShift, depth, parallelism int) (*Index, error) {
	br, err := bcf.NewReader(r, parallelism)
	if err != nil {
		return nil, err
	}
	defer br.Close() // nolint: errcheck
	b, err := NewBuilder(len(br.Header().Contigs), minShift, depth)
	if err != nil {
		return nil, err
	}
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := b.Add(rec.Chrom, int64(rec.Pos), int64(rec.End()), rec.Chunk); err != nil {
			return nil, errors.Wrapf(err, "record at %d:%d", rec.Chrom, rec.Pos+1)
		}
	}
	return b.Finish(), nil
}

// WriteIndex reads a BCF stream from r and writes its CSI index to w.
func WriteIndex(w io.Writer, r io.Reader, minShift, depth, parallelism int) error {
	idx, err := Build(r, minShift, depth, parallelism)
	if err != nil {
		return err
	}
	return idx.Write(w)
}
