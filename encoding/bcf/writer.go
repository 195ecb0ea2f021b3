package bcf

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/bcfdist/encoding/bgzf"
	"github.com/pkg/errors"
)

// Writer writes a BCF stream.  The header occupies its own BGZF block so the
// first record starts at a block boundary.
type Writer struct {
	bg     *bgzf.Writer
	header *Header
	lenBuf [8]byte
}

// NewWriter writes the magic and header text to w, compressing at the given
// flate level.
func NewWriter(w io.Writer, h *Header, level int) (*Writer, error) {
	bg, err := bgzf.NewWriter(w, level)
	if err != nil {
		return nil, err
	}
	text := append([]byte(h.Text), 0)
	var hdr [9]byte
	copy(hdr[:], Magic[:])
	binary.LittleEndian.PutUint32(hdr[5:], uint32(len(text)))
	if _, err := bg.Write(hdr[:]); err != nil {
		return nil, err
	}
	if _, err := bg.Write(text); err != nil {
		return nil, err
	}
	if err := bg.FlushBlock(); err != nil {
		return nil, err
	}
	return &Writer{bg: bg, header: h}, nil
}

// Write appends one record.
func (w *Writer) Write(r *Record) error {
	if r.NSample != len(w.header.Samples) {
		return errors.Errorf("bcf: record has %d samples, header has %d", r.NSample, len(w.header.Samples))
	}
	binary.LittleEndian.PutUint32(w.lenBuf[0:], uint32(len(r.Shared)))
	binary.LittleEndian.PutUint32(w.lenBuf[4:], uint32(len(r.Indiv)))
	if _, err := w.bg.Write(w.lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.bg.Write(r.Shared); err != nil {
		return err
	}
	_, err := w.bg.Write(r.Indiv)
	return err
}

// VOffset returns the virtual offset at which the next record will start.
func (w *Writer) VOffset() uint64 {
	return w.bg.VOffset()
}

// Close flushes pending data and writes the BGZF terminator.  It does not
// close the underlying writer.
func (w *Writer) Close() error {
	return w.bg.Close()
}
