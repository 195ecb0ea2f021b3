package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/klauspost/compress/gzip"
)

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// Header enables ID-based lookup, using its contig dictionary.
	Header *bcf.Header
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// BEDUnion is a collection of length-2N sequences, where N is the number of
// intervals on a contig, the (0-based) start position of interval #k is in
// element [2k] and the end position is in element [2k+1], and the intervals
// are stored in increasing order.  A position is inside the union iff the
// number of endpoints <= it is odd.
//
// A BEDUnion is immutable once built and may be shared between goroutines.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	nameMap map[string][]PosType
	// idMap is indexed by contig dictionary ID.  It is only initialized if
	// the constructor was given a Header.
	idMap [][]PosType
	// totBases is the number of positions covered.
	totBases int
}

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a.
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// ContainsByID checks whether the (0-based) position pos is within the union,
// where the contig is specified by dictionary ID.
func (u *BEDUnion) ContainsByID(chrID int, pos PosType) bool {
	if chrID < 0 || chrID >= len(u.idMap) {
		return false
	}
	return searchPosType(u.idMap[chrID], pos+1)&1 == 1
}

// ContainsByName checks whether the (0-based) position pos is within the
// union, where the contig is specified by name.
func (u *BEDUnion) ContainsByName(chrName string, pos PosType) bool {
	return searchPosType(u.nameMap[chrName], pos+1)&1 == 1
}

// IntersectsByID checks whether [start, end) on the given contig overlaps
// the union.
func (u *BEDUnion) IntersectsByID(chrID int, start, end PosType) bool {
	if chrID < 0 || chrID >= len(u.idMap) || end <= start {
		return false
	}
	ivs := u.idMap[chrID]
	idx := searchPosType(ivs, start+1)
	if idx&1 == 1 {
		return true
	}
	return idx < len(ivs) && ivs[idx] < end
}

// MentionsID reports whether the union has any interval on the contig.
func (u *BEDUnion) MentionsID(chrID int) bool {
	return chrID >= 0 && chrID < len(u.idMap) && len(u.idMap[chrID]) > 0
}

// TotalBases returns the number of positions covered by the union.
func (u *BEDUnion) TotalBases() int {
	return u.totBases
}

// unionBuilder merges sorted intervals into a BEDUnion.
type unionBuilder struct {
	u            BEDUnion
	prevChr      string
	chrIntervals []PosType
	prevStart    PosType
	prevEnd      PosType
}

func newUnionBuilder() *unionBuilder {
	return &unionBuilder{u: BEDUnion{nameMap: make(map[string][]PosType)}}
}

func (b *unionBuilder) add(chr string, start, end PosType) error {
	if start < 0 {
		return fmt.Errorf("negative start coordinate %d", start)
	}
	if end < start || end >= posTypeMax {
		return fmt.Errorf("invalid coordinate pair [%d, %d)", start, end)
	}
	if chr != b.prevChr {
		b.flush()
		if _, found := b.u.nameMap[chr]; found {
			return fmt.Errorf("unsorted input (split chromosome %v)", chr)
		}
		b.prevChr = chr
		b.chrIntervals = []PosType{}
		b.prevStart, b.prevEnd = -1, -1
	}
	if end == start {
		return nil
	}
	if b.prevEnd == -1 {
		b.prevStart, b.prevEnd = start, end
		return nil
	}
	if start < b.prevStart {
		return fmt.Errorf("unsorted input at %s:%d", chr, start)
	}
	if start > b.prevEnd {
		b.chrIntervals = append(b.chrIntervals, b.prevStart, b.prevEnd)
		b.u.totBases += int(b.prevEnd - b.prevStart)
		b.prevStart, b.prevEnd = start, end
		return nil
	}
	// Touching or overlapping; merge.
	if end > b.prevEnd {
		b.prevEnd = end
	}
	return nil
}

// flush saves the pending interval and contig.
func (b *unionBuilder) flush() {
	if b.prevChr == "" {
		return
	}
	if b.prevEnd != -1 {
		b.chrIntervals = append(b.chrIntervals, b.prevStart, b.prevEnd)
		b.u.totBases += int(b.prevEnd - b.prevStart)
	}
	b.u.nameMap[b.prevChr] = b.chrIntervals
	b.prevChr = ""
}

func (b *unionBuilder) finish(header *bcf.Header) BEDUnion {
	b.flush()
	if header != nil {
		b.u.idMap = make([][]PosType, len(header.Contigs))
		for id, c := range header.Contigs {
			b.u.idMap[id] = b.u.nameMap[c.Name]
		}
	}
	return b.u
}

// NewBEDUnion loads just the intervals from a sorted (by first coordinate)
// interval-BED, merging touching/overlapping intervals and eliminating empty
// ones in the process.
func NewBEDUnion(reader io.Reader, opts NewBEDOpts) (BEDUnion, error) {
	var startSubtract PosType
	if opts.OneBasedInput {
		startSubtract = 1
	}
	b := newUnionBuilder()
	scanner := bufio.NewScanner(reader)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		fields := bytes.Fields(scanner.Bytes())
		if len(fields) == 0 || bytes.HasPrefix(fields[0], []byte("#")) ||
			bytes.Equal(fields[0], []byte("track")) || bytes.Equal(fields[0], []byte("browser")) {
			continue
		}
		if len(fields) < 3 {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnion: line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.ParseInt(string(fields[1]), 10, 32)
		if err != nil {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnion: line %d: %v", lineIdx, err)
		}
		end, err := strconv.ParseInt(string(fields[2]), 10, 32)
		if err != nil {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnion: line %d: %v", lineIdx, err)
		}
		if err := b.add(string(fields[0]), PosType(start)-startSubtract, PosType(end)); err != nil {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnion: line %d: %v", lineIdx, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return BEDUnion{}, err
	}
	u := b.finish(opts.Header)
	log.Printf("BED loaded, %d base(s) covered.", u.totBases)
	return u, nil
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Gzipped BED files are recognized by their extension.
func NewBEDUnionFromPath(ctx context.Context, path string, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		reader = gz
	}
	return NewBEDUnion(reader, opts)
}

// NewBEDUnionFromEntries initializes a BEDUnion from a sorted []Entry.
func NewBEDUnionFromEntries(entries []Entry, opts NewBEDOpts) (BEDUnion, error) {
	b := newUnionBuilder()
	for _, e := range entries {
		if err := b.add(e.ChrName, e.Start0, e.End); err != nil {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnionFromEntries: %v", err)
		}
	}
	return b.finish(opts.Header), nil
}
