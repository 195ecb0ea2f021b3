/*Package bcf reads and writes BCF 2.2 files: the binary, BGZF-compressed
  encoding of VCF.

  A BCF file is the magic "BCF\2\2", a little-endian uint32 header length, the
  NUL-terminated VCF text header, and then a sequence of records.  Each record
  is two uint32 lengths followed by a "shared" block (CHROM, POS, rlen, QUAL,
  counts, ID, alleles, FILTER, INFO) and an "indiv" block (one entry per FORMAT
  key, each holding the values of every sample).  Strings that appear in
  INFO/FILTER/FORMAT keys are replaced by indices into a dictionary derived
  from the header; CHROM is an index into the contig dictionary.

  Only the pieces needed to locate and decode per-sample FORMAT payloads are
  modeled.  INFO values are skipped, not interpreted.

  See https://samtools.github.io/hts-specs/VCFv4.3.pdf, section 6.
*/
package bcf
