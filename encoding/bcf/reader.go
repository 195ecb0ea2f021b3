package bcf

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/grailbio/hts/bgzf"
	"github.com/pkg/errors"
)

// Magic is the leading five bytes of a BCF 2.2 stream.
var Magic = [5]byte{'B', 'C', 'F', 2, 2}

// maxRecordSize bounds the combined shared+indiv size of one record.
const maxRecordSize = 1 << 30

// Reader reads BCF records from a BGZF stream.
type Reader struct {
	bg     *bgzf.Reader
	header *Header
	lenBuf [8]byte
	buf    []byte
	rec    Record
}

// NewReader reads the magic and header from r.  rd is the decompression
// parallelism passed to the BGZF reader.
func NewReader(r io.Reader, rd int) (*Reader, error) {
	bg, err := bgzf.NewReader(r, rd)
	if err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	var magic [5]byte
	if _, err := io.ReadFull(bg, magic[:]); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "reading magic: %v", err)
	}
	if magic[0] != 'B' || magic[1] != 'C' || magic[2] != 'F' || magic[3] != 2 {
		return nil, errors.Wrapf(ErrInvalid, "bad magic %q", magic[:])
	}
	if magic[4] != 2 && magic[4] != 1 {
		return nil, errors.Wrapf(ErrInvalid, "unsupported BCF version 2.%d", magic[4])
	}
	var lText uint32
	if err := binary.Read(bg, binary.LittleEndian, &lText); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "reading header length: %v", err)
	}
	if lText > maxRecordSize {
		return nil, errors.Wrapf(ErrInvalid, "header length %d too large", lText)
	}
	text := make([]byte, lText)
	if _, err := io.ReadFull(bg, text); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "reading header text: %v", err)
	}
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	h, err := ParseHeader(string(text))
	if err != nil {
		return nil, err
	}
	return &Reader{bg: bg, header: h}, nil
}

// Header returns the parsed header.
func (r *Reader) Header() *Header {
	return r.header
}

// Read returns the next record, or io.EOF at a clean end of stream.  The
// returned record is owned by the Reader and is overwritten by the next call.
func (r *Reader) Read() (*Record, error) {
	if _, err := io.ReadFull(r.bg, r.lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrInvalid, "truncated record length")
		}
		return nil, err
	}
	begin := r.bg.LastChunk().Begin
	lShared := binary.LittleEndian.Uint32(r.lenBuf[0:])
	lIndiv := binary.LittleEndian.Uint32(r.lenBuf[4:])
	total := uint64(lShared) + uint64(lIndiv)
	if total > maxRecordSize {
		return nil, errors.Wrapf(ErrInvalid, "record of %d bytes exceeds limit", total)
	}
	if uint64(cap(r.buf)) < total {
		r.buf = make([]byte, total)
	}
	r.buf = r.buf[:total]
	if _, err := io.ReadFull(r.bg, r.buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrInvalid, "truncated record: want %d bytes", total)
		}
		return nil, err
	}
	r.rec = Record{
		Shared: r.buf[:lShared],
		Indiv:  r.buf[lShared:],
		Chunk:  bgzf.Chunk{Begin: begin, End: r.bg.LastChunk().End},
	}
	if err := r.rec.parseFixed(); err != nil {
		return nil, err
	}
	return &r.rec, nil
}

// Seek positions the reader at the given virtual offset, which must be the
// start of a record.
func (r *Reader) Seek(off bgzf.Offset) error {
	return r.bg.Seek(off)
}

// LastChunk returns the extent of the most recent read from the underlying
// BGZF stream.  Right after NewReader it ends at the first record.
func (r *Reader) LastChunk() bgzf.Chunk {
	return r.bg.LastChunk()
}

// Close releases the decompression goroutines.  It does not close the
// underlying reader.
func (r *Reader) Close() error {
	return r.bg.Close()
}
