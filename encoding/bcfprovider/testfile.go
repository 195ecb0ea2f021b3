package bcfprovider

import (
	"bytes"
	"context"

	"github.com/grailbio/base/file"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/bcfdist/encoding/csi"
	"github.com/klauspost/compress/gzip"
)

// TestSite describes one record written by WriteTestFile.
type TestSite struct {
	Chrom   int32
	Pos     int32 // 0-based
	Alleles []string
	// GT lists the allele indices of each sample, -1 for a missing allele.
	// A nil GT omits the field.
	GT [][]int
	// Extra FORMAT fields written after GT.
	Extra []bcf.Field
}

// WriteTestFile writes a BCF file at path holding the given sites, and its
// CSI index at DefaultIndexPath(path).  Sites must be sorted.  It is meant
// for tests in this and dependent packages.
func WriteTestFile(ctx context.Context, path string, contigs []bcf.Contig, samples []string, sites []TestSite) error {
	h, err := bcf.ParseHeader(bcf.GenotypeHeaderText(contigs, samples))
	if err != nil {
		return err
	}
	gtKey, _ := h.StringID("GT")
	var buf bytes.Buffer
	w, err := bcf.NewWriter(&buf, h, gzip.DefaultCompression)
	if err != nil {
		return err
	}
	for _, s := range sites {
		var fields []bcf.Field
		if s.GT != nil {
			fields = append(fields, bcf.GenotypeField(gtKey, s.GT, false))
		}
		fields = append(fields, s.Extra...)
		rec, err := bcf.NewRecord(s.Chrom, s.Pos, s.Alleles, len(samples), fields...)
		if err != nil {
			return err
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	idx, err := csi.Build(bytes.NewReader(buf.Bytes()), csi.DefaultMinShift, csi.DefaultDepth, 1)
	if err != nil {
		return err
	}
	var idxBuf bytes.Buffer
	if err := idx.Write(&idxBuf); err != nil {
		return err
	}
	if err := writeFile(ctx, path, buf.Bytes()); err != nil {
		return err
	}
	return writeFile(ctx, DefaultIndexPath(path), idxBuf.Bytes())
}

func writeFile(ctx context.Context, path string, data []byte) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	_, err = out.Writer(ctx).Write(data)
	return err
}
