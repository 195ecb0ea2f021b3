package bcf

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/hts/bgzf"
	"github.com/pkg/errors"
)

// sharedFixedSize is the size of the fixed-width prefix of the shared block.
const sharedFixedSize = 24

// qualMissing is the float32 bit pattern BCF uses for a missing QUAL.
const qualMissing = 0x7f800001

// Record is one BCF record.  Only the fixed columns are decoded eagerly;
// alleles and FORMAT fields are parsed on demand from the raw blocks.
type Record struct {
	// Chrom is the contig dictionary ID.
	Chrom int32
	// Pos is the 0-based start position.
	Pos int32
	// Rlen is the length of the reference allele span.
	Rlen    int32
	Qual    float32
	NInfo   int
	NAllele int
	NSample int
	NFormat int

	// Shared and Indiv are the raw record blocks.  They alias the reader's
	// buffer and are valid until the next Read.
	Shared []byte
	Indiv  []byte

	// Chunk is the BGZF extent of the record in the file it was read from.
	Chunk bgzf.Chunk
}

// End returns the 0-based exclusive end of the reference span.
func (r *Record) End() int32 {
	return r.Pos + r.Rlen
}

// parseFixed fills the fixed fields from r.Shared.
func (r *Record) parseFixed() error {
	b := r.Shared
	if len(b) < sharedFixedSize {
		return errors.Wrapf(ErrInvalid, "shared block of %d bytes is shorter than %d", len(b), sharedFixedSize)
	}
	r.Chrom = int32(binary.LittleEndian.Uint32(b[0:]))
	r.Pos = int32(binary.LittleEndian.Uint32(b[4:]))
	r.Rlen = int32(binary.LittleEndian.Uint32(b[8:]))
	r.Qual = math.Float32frombits(binary.LittleEndian.Uint32(b[12:]))
	nai := binary.LittleEndian.Uint32(b[16:])
	r.NInfo = int(nai & 0xffff)
	r.NAllele = int(nai >> 16)
	nfs := binary.LittleEndian.Uint32(b[20:])
	r.NSample = int(nfs & 0xffffff)
	r.NFormat = int(nfs >> 24)
	return nil
}

// Alleles returns the REF and ALT alleles.
func (r *Record) Alleles() ([]string, error) {
	b := r.Shared[sharedFixedSize:]
	n, err := skipTypedValue(b) // ID
	if err != nil {
		return nil, errors.Wrap(err, "ID")
	}
	b = b[n:]
	alleles := make([]string, r.NAllele)
	for i := range alleles {
		typ, count, n, err := readTypeDescriptor(b)
		if err != nil {
			return nil, errors.Wrapf(err, "allele %d", i)
		}
		if typ != TypeChar && !(typ == TypeMissing && count == 0) {
			return nil, errors.Wrapf(ErrInvalid, "allele %d has type %d", i, typ)
		}
		if n+count > len(b) {
			return nil, errors.Wrapf(ErrInvalid, "allele %d overruns shared block", i)
		}
		alleles[i] = string(b[n : n+count])
		b = b[n+count:]
	}
	return alleles, nil
}

// Field is the payload of one FORMAT key across all samples.
type Field struct {
	// Key is the string-dictionary ID of the FORMAT key.
	Key int
	// Type is the value type of every element of Data.
	Type ValueType
	// PerSample is the number of values stored for each sample.
	PerSample int
	// Data holds NSample*PerSample values, sample-major.
	Data []byte
}

// Int returns the i'th integer value in f, widened to int32.  Missing and
// end-of-vector sentinels of every integer width map to MissingInt32 and
// EndOfVectorInt32 respectively.  It panics if f is not an integer field.
func (f Field) Int(i int) int32 {
	if !f.Type.IsInt() {
		panic(errors.Errorf("bcf: Int on field of type %d", f.Type))
	}
	return intAt(f.Data, f.Type, i)
}

// Len returns the number of values in f.
func (f Field) Len() int {
	if sz := f.Type.Size(); sz > 0 {
		return len(f.Data) / sz
	}
	return 0
}

// Format locates the FORMAT field with the given string-dictionary key.  It
// returns ok=false if the record carries no such field.
func (r *Record) Format(key int) (f Field, ok bool, err error) {
	b := r.Indiv
	for i := 0; i < r.NFormat; i++ {
		k, n, err := readTypedInt(b)
		if err != nil {
			return Field{}, false, errors.Wrapf(err, "FORMAT entry %d key", i)
		}
		b = b[n:]
		typ, count, n, err := readTypeDescriptor(b)
		if err != nil {
			return Field{}, false, errors.Wrapf(err, "FORMAT entry %d", i)
		}
		b = b[n:]
		size := r.NSample * count * typ.Size()
		if size > len(b) {
			return Field{}, false, errors.Wrapf(ErrInvalid, "FORMAT entry %d: payload of %d bytes overruns indiv block (%d left)", i, size, len(b))
		}
		if k == key {
			return Field{Key: k, Type: typ, PerSample: count, Data: b[:size]}, true, nil
		}
		b = b[size:]
	}
	return Field{}, false, nil
}

// NewRecord encodes a record with an empty ID, missing QUAL, no FILTER, no
// INFO and the given FORMAT fields.  rlen is taken from the length of the
// first allele.
func NewRecord(chrom, pos int32, alleles []string, nSample int, fields ...Field) (*Record, error) {
	if len(alleles) == 0 {
		return nil, errors.New("bcf: record needs at least a REF allele")
	}
	shared := make([]byte, sharedFixedSize, 64)
	binary.LittleEndian.PutUint32(shared[0:], uint32(chrom))
	binary.LittleEndian.PutUint32(shared[4:], uint32(pos))
	binary.LittleEndian.PutUint32(shared[8:], uint32(len(alleles[0])))
	binary.LittleEndian.PutUint32(shared[12:], qualMissing)
	binary.LittleEndian.PutUint32(shared[16:], uint32(len(alleles))<<16)
	binary.LittleEndian.PutUint32(shared[20:], uint32(len(fields))<<24|uint32(nSample))
	shared = appendTypedString(shared, "")
	for _, a := range alleles {
		shared = appendTypedString(shared, a)
	}
	shared = appendTypeDescriptor(shared, TypeMissing, 0) // FILTER

	var indiv []byte
	for _, f := range fields {
		if want := nSample * f.PerSample * f.Type.Size(); len(f.Data) != want {
			return nil, errors.Errorf("bcf: FORMAT key %d has %d bytes, want %d", f.Key, len(f.Data), want)
		}
		indiv = appendTypedInt(indiv, f.Key)
		indiv = appendTypeDescriptor(indiv, f.Type, f.PerSample)
		indiv = append(indiv, f.Data...)
	}
	r := &Record{Shared: shared, Indiv: indiv}
	if err := r.parseFixed(); err != nil {
		return nil, err
	}
	return r, nil
}

// GenotypeField encodes a GT FORMAT field.  calls[i] lists the allele
// indices of sample i, with -1 for a missing allele.  Samples with fewer
// alleles than the widest call are padded with end-of-vector.
func GenotypeField(key int, calls [][]int, phased bool) Field {
	ploidy, maxAllele := 0, 0
	for _, c := range calls {
		if len(c) > ploidy {
			ploidy = len(c)
		}
		for _, a := range c {
			if a > maxAllele {
				maxAllele = a
			}
		}
	}
	typ := TypeInt8
	if (maxAllele+1)<<1|1 > math.MaxInt8 {
		typ = TypeInt16
	}
	f := Field{Key: key, Type: typ, PerSample: ploidy, Data: make([]byte, 0, len(calls)*ploidy*typ.Size())}
	for _, c := range calls {
		for j := 0; j < ploidy; j++ {
			var v int
			switch {
			case j >= len(c):
				v = int8EndOfVector
				if typ == TypeInt16 {
					v = int16EndOfVector
				}
			case c[j] < 0:
				v = 0
			default:
				v = (c[j] + 1) << 1
				if phased && j > 0 {
					v |= 1
				}
			}
			if typ == TypeInt8 {
				f.Data = append(f.Data, byte(int8(v)))
			} else {
				f.Data = append(f.Data, byte(uint16(int16(v))), byte(uint16(int16(v))>>8))
			}
		}
	}
	return f
}
