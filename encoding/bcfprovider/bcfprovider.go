package bcfprovider

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/bcfdist/encoding/csi"
	"github.com/grailbio/bcfdist/interval"
	pkgerrors "github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// Iterator iterates over the records of one region.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record.  If an error
	// occurs, Scan() returns false and the error can be retrieved by calling
	// Err().
	//
	// Records are yielded in file order, which is ascending position.
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record.  It is valid until the next call to
	// Scan.
	//
	// REQUIRES: Scan() returned true.
	Record() *bcf.Record

	// Err returns the error encountered during iteration, or nil.
	Err() error

	// Close must be called exactly once.  It returns the value of Err().
	Close() error
}

// MaxEnd is the End of a region that covers a whole contig.
const MaxEnd = 1<<31 - 1

// Region is a half-open, 0-based interval on one contig.  An iterator over a
// region yields the records whose start position lies in [Start0, End).
type Region struct {
	// RefID is the contig dictionary ID.
	RefID int
	// Name is the contig name, used in messages.
	Name   string
	Start0 int64
	End    int64
}

func (r Region) String() string {
	if r.Start0 == 0 && r.End == MaxEnd {
		return r.Name
	}
	return fmt.Sprintf("%s:%d-%d", r.Name, r.Start0+1, r.End)
}

// DefaultIndexPath returns the CSI path that accompanies the BCF file at
// path: the file extension is replaced by ".bcf.csi".
func DefaultIndexPath(p string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ".bcf.csi"
}

// Provider opens iterators over an indexed BCF file.  Path and Index may name
// any file scheme registered with grailbio/base/file.
type Provider struct {
	// Path of the *.bcf file.  Must be nonempty.
	Path string
	// Index is the pathname of the CSI index.  If "", DefaultIndexPath(Path).
	Index string
	err   errorreporter.T

	mu        sync.Mutex
	nActive   int
	freeIters []*iterator
	header    *bcf.Header
	index     *csi.Index
}

// IndexPath returns the CSI path used by p.
func (p *Provider) IndexPath() string {
	if p.Index != "" {
		return p.Index
	}
	return DefaultIndexPath(p.Path)
}

// ioError classifies a failure to open or read a file.
func ioError(op, path string, err error) error {
	kind := errors.Other
	switch {
	case pkgerrors.Cause(err) == bcf.ErrInvalid, pkgerrors.Cause(err) == csi.ErrInvalid:
		kind = errors.Invalid
	case os.IsNotExist(err), errors.Is(errors.NotExist, err):
		kind = errors.NotExist
	}
	return errors.E(kind, op, path, err)
}

// GetHeader reads and caches the BCF header.
func (p *Provider) GetHeader() (*bcf.Header, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.header != nil {
		return p.header, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, p.Path)
	if err != nil {
		err = ioError("open", p.Path, err)
		p.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	r, err := bcf.NewReader(in.Reader(ctx), 1)
	if err != nil {
		err = ioError("read header", p.Path, err)
		p.err.Set(err)
		return nil, err
	}
	defer r.Close() // nolint: errcheck
	p.header = r.Header()
	return p.header, nil
}

// GetIndex reads and caches the CSI index.
func (p *Provider) GetIndex() (*csi.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index != nil {
		return p.index, nil
	}
	ctx := vcontext.Background()
	indexPath := p.IndexPath()
	in, err := file.Open(ctx, indexPath)
	if err != nil {
		err = ioError("open", indexPath, err)
		p.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	if p.index, err = csi.ReadIndex(in.Reader(ctx)); err != nil {
		err = ioError("read index", indexPath, err)
		p.err.Set(err)
		return nil, err
	}
	return p.index, nil
}

// CapacityHint returns the number of records the index says are on the
// contig, or 0 if the index does not record it.
func (p *Provider) CapacityHint(refID int) int {
	idx, err := p.GetIndex()
	if err != nil {
		return 0
	}
	n, ok := idx.MappedCount(refID)
	if !ok {
		return 0
	}
	return int(n)
}

// Regions resolves a comma- or space-separated list of region strings
// against the header.  An empty list means every contig of the header, in
// dictionary order.
func (p *Provider) Regions(list string) ([]Region, error) {
	header, err := p.GetHeader()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(list) == "" {
		regions := make([]Region, len(header.Contigs))
		for id, c := range header.Contigs {
			regions[id] = wholeContig(id, c)
		}
		return regions, nil
	}
	entries, err := interval.ParseRegionList(list)
	if err != nil {
		return nil, errors.E(errors.Invalid, "region", err)
	}
	regions := make([]Region, len(entries))
	for i, e := range entries {
		id, ok := header.ContigID(e.ChrName)
		if !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("region %s: contig %q is not in the header of %s", e, e.ChrName, p.Path))
		}
		if e.WholeContig() {
			regions[i] = wholeContig(id, header.Contigs[id])
		} else {
			regions[i] = Region{RefID: id, Name: e.ChrName, Start0: int64(e.Start0), End: int64(e.End)}
		}
	}
	return regions, nil
}

// wholeContig ignores the header's contig length: records past it are still
// on the contig.
func wholeContig(id int, c bcf.Contig) Region {
	return Region{RefID: id, Name: c.Name, End: MaxEnd}
}

// Disjoint sorts regions by contig and start, and merges those that overlap,
// so that every record start falls in at most one of the returned regions.
// Adjacent regions are kept apart.  The input is not modified.
func Disjoint(regions []Region) []Region {
	if len(regions) == 0 {
		return nil
	}
	sorted := append([]Region(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RefID != sorted[j].RefID {
			return sorted[i].RefID < sorted[j].RefID
		}
		return sorted[i].Start0 < sorted[j].Start0
	})
	out := sorted[:1]
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.RefID == last.RefID && r.Start0 < last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Close releases the pooled iterators and returns the first error
// encountered by any iterator.  All iterators must be closed beforehand.
func (p *Provider) Close() error {
	if p.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", p.nActive, p)
	}
	for _, iter := range p.freeIters {
		iter.internalClose()
	}
	p.freeIters = nil
	return p.err.Err()
}

// NewIterator returns an iterator over the records that start in region.
func (p *Provider) NewIterator(region Region) Iterator {
	idx, err := p.GetIndex()
	if err != nil {
		return NewErrorIterator(err)
	}
	if region.RefID < 0 || region.RefID >= idx.NumRefs() {
		return NewErrorIterator(errors.E(errors.NotExist,
			fmt.Sprintf("region %v: contig id %d is beyond the %d references of index %s",
				region, region.RefID, idx.NumRefs(), p.IndexPath())))
	}
	if region.End <= region.Start0 {
		return NewErrorIterator(errors.E(errors.Invalid, fmt.Sprintf("region %v is empty", region)))
	}
	iter := p.allocateIterator()
	if iter.err != nil {
		return iter
	}
	iter.reset(idx, region)
	return iter
}

type iterator struct {
	provider *Provider
	in       file.File
	reader   *bcf.Reader
	region   Region

	active bool
	err    error
	rec    *bcf.Record
}

// Return an unused iterator.  If p.freeIters is nonempty, this function
// returns one from freeIters.  Else, it opens the BCF file and returns an
// iterator containing it.  On error, returns an iterator with non-nil err
// field.
func (p *Provider) allocateIterator() *iterator {
	p.mu.Lock()
	p.nActive++
	if len(p.freeIters) > 0 {
		iter := p.freeIters[len(p.freeIters)-1]
		iter.active = true
		iter.err = nil
		iter.rec = nil
		p.freeIters = p.freeIters[:len(p.freeIters)-1]
		p.mu.Unlock()
		return iter
	}
	p.mu.Unlock()

	iter := iterator{
		provider: p,
		active:   true,
	}
	ctx := vcontext.Background()
	var err error
	if iter.in, err = file.Open(ctx, p.Path); err != nil {
		iter.err = ioError("open", p.Path, err)
		return &iter
	}
	if iter.reader, err = bcf.NewReader(iter.in.Reader(ctx), 1); err != nil {
		iter.err = ioError("read header", p.Path, err)
	}
	return &iter
}

func (p *Provider) freeIterator(i *iterator) {
	if !i.active {
		vlog.Fatal(i)
	}
	i.active = false
	if i.Err() != nil {
		// The iter may be invalid. Don't reuse it.
		i.internalClose() // Will set p.err
		i = nil
	}
	p.mu.Lock()
	if i != nil {
		p.freeIters = append(p.freeIters, i)
	}
	p.nActive--
	if p.nActive < 0 {
		vlog.Fatalf("Negative active count for %+v", p)
	}
	p.mu.Unlock()
}

// reset positions the iterator at the first chunk that may hold records of
// region.  A region without indexed records yields an empty stream.
func (i *iterator) reset(idx *csi.Index, region Region) {
	i.region = region
	chunks := idx.Chunks(region.RefID, region.Start0, region.End)
	if len(chunks) == 0 {
		i.err = io.EOF
		return
	}
	if err := i.reader.Seek(chunks[0].Begin); err != nil {
		i.err = ioError("seek", i.provider.Path, err)
	}
}

func (i *iterator) Scan() bool {
	if !i.active {
		vlog.Fatal("Reusing iterator")
	}
	if i.err != nil {
		return false
	}
	for {
		rec, err := i.reader.Read()
		if err != nil {
			if err != io.EOF {
				err = ioError("read", i.provider.Path, err)
			}
			i.err = err
			return false
		}
		refID := int(rec.Chrom)
		// The index also yields records that start before the region and
		// overlap it; those belong to the region holding their start.
		if refID < i.region.RefID || (refID == i.region.RefID && int64(rec.Pos) < i.region.Start0) {
			continue
		}
		if refID > i.region.RefID || int64(rec.Pos) >= i.region.End {
			i.err = io.EOF
			return false
		}
		i.rec = rec
		return true
	}
}

func (i *iterator) Record() *bcf.Record {
	return i.rec
}

// Err implements the Iterator interface.
func (i *iterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *iterator) Close() error {
	err := i.Err()
	i.provider.freeIterator(i)
	return err
}

func (i *iterator) internalClose() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}
