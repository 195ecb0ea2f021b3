package bcf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Contig is one ##contig header line.
type Contig struct {
	// Name is the contig ID, e.g. "chr1".
	Name string
	// Length is the declared length, or 0 if the line has none.
	Length int64
}

// Header is the parsed text header of a BCF file.
type Header struct {
	// Text is the raw VCF header, without the trailing NUL.
	Text string
	// Contigs is indexed by the contig dictionary ID used in CHROM.
	Contigs []Contig
	// Samples lists the sample columns of the #CHROM line in order.
	Samples []string

	contigIDs map[string]int
	strings   []string
	stringIDs map[string]int
}

// ContigID returns the dictionary ID of the named contig.
func (h *Header) ContigID(name string) (int, bool) {
	id, ok := h.contigIDs[name]
	return id, ok
}

// StringID returns the string-dictionary ID of an INFO/FILTER/FORMAT key.
func (h *Header) StringID(key string) (int, bool) {
	id, ok := h.stringIDs[key]
	return id, ok
}

// Strings returns the string dictionary, indexed by ID.  IDs that the header
// never assigned are "".
func (h *Header) Strings() []string {
	return h.strings
}

// dictionary accumulates a BCF dictionary in header order, honoring explicit
// IDX= attributes.
type dictionary struct {
	ids   map[string]int
	names []string
}

func newDictionary() dictionary {
	return dictionary{ids: make(map[string]int)}
}

func (d *dictionary) add(name, idxAttr string) error {
	idx := len(d.names)
	if idxAttr != "" {
		v, err := strconv.Atoi(idxAttr)
		if err != nil || v < 0 {
			return errors.Wrapf(ErrInvalid, "bad IDX=%q for %s", idxAttr, name)
		}
		idx = v
	} else if _, ok := d.ids[name]; ok {
		return nil
	}
	if prev, ok := d.ids[name]; ok && prev != idx {
		return errors.Wrapf(ErrInvalid, "%s declared with conflicting IDX %d and %d", name, prev, idx)
	}
	for len(d.names) <= idx {
		d.names = append(d.names, "")
	}
	if d.names[idx] != "" && d.names[idx] != name {
		return errors.Wrapf(ErrInvalid, "IDX %d assigned to both %s and %s", idx, d.names[idx], name)
	}
	d.names[idx] = name
	d.ids[name] = idx
	return nil
}

// ParseHeader parses the VCF text header embedded in a BCF file.
func ParseHeader(text string) (*Header, error) {
	h := &Header{Text: text}
	strs := newDictionary()
	contigs := newDictionary()
	lengths := make(map[string]int64)
	// PASS is always string 0, whether or not the header declares it.
	if err := strs.add("PASS", ""); err != nil {
		return nil, err
	}
	sawColumns := false
	for lineno, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "##"):
			key, attrs, ok, err := parseMetaLine(line[2:])
			if err != nil {
				return nil, errors.Wrapf(err, "header line %d", lineno+1)
			}
			if !ok {
				continue
			}
			id := attrs["ID"]
			switch key {
			case "INFO", "FILTER", "FORMAT":
				if id == "" {
					return nil, errors.Wrapf(ErrInvalid, "header line %d: ##%s without ID", lineno+1, key)
				}
				if err := strs.add(id, attrs["IDX"]); err != nil {
					return nil, err
				}
			case "contig":
				if id == "" {
					return nil, errors.Wrapf(ErrInvalid, "header line %d: ##contig without ID", lineno+1)
				}
				if err := contigs.add(id, attrs["IDX"]); err != nil {
					return nil, err
				}
				if l := attrs["length"]; l != "" {
					n, err := strconv.ParseInt(l, 10, 64)
					if err != nil {
						return nil, errors.Wrapf(ErrInvalid, "header line %d: bad contig length %q", lineno+1, l)
					}
					lengths[id] = n
				}
			}
		case strings.HasPrefix(line, "#CHROM"):
			cols := strings.Split(line, "\t")
			if len(cols) < 8 {
				return nil, errors.Wrapf(ErrInvalid, "#CHROM line has %d columns", len(cols))
			}
			if len(cols) > 8 {
				if cols[8] != "FORMAT" {
					return nil, errors.Wrapf(ErrInvalid, "#CHROM column 9 is %q, expected FORMAT", cols[8])
				}
				h.Samples = cols[9:]
			}
			sawColumns = true
		default:
			return nil, errors.Wrapf(ErrInvalid, "header line %d: unexpected %.20q", lineno+1, line)
		}
	}
	if !sawColumns {
		return nil, errors.Wrap(ErrInvalid, "header has no #CHROM line")
	}
	h.strings = strs.names
	h.stringIDs = strs.ids
	h.contigIDs = contigs.ids
	h.Contigs = make([]Contig, len(contigs.names))
	for i, name := range contigs.names {
		h.Contigs[i] = Contig{Name: name, Length: lengths[name]}
	}
	return h, nil
}

// parseMetaLine parses the body of a "##key=value" line.  ok is false for
// unstructured lines (value not enclosed in <>), whose content is ignored.
func parseMetaLine(s string) (key string, attrs map[string]string, ok bool, err error) {
	eq := strings.IndexByte(s, '=')
	if eq <= 0 {
		return "", nil, false, errors.Wrapf(ErrInvalid, "malformed meta line %.20q", s)
	}
	key, value := s[:eq], s[eq+1:]
	if !strings.HasPrefix(value, "<") {
		return key, nil, false, nil
	}
	if !strings.HasSuffix(value, ">") {
		return "", nil, false, errors.Wrapf(ErrInvalid, "unterminated ##%s line", key)
	}
	attrs = make(map[string]string)
	body := value[1 : len(value)-1]
	for i := 0; i < len(body); {
		eq := strings.IndexByte(body[i:], '=')
		if eq < 0 {
			return "", nil, false, errors.Wrapf(ErrInvalid, "##%s: attribute without value", key)
		}
		name := body[i : i+eq]
		i += eq + 1
		var val string
		if i < len(body) && body[i] == '"' {
			var sb strings.Builder
			i++
			for ; i < len(body) && body[i] != '"'; i++ {
				if body[i] == '\\' && i+1 < len(body) {
					i++
				}
				sb.WriteByte(body[i])
			}
			if i >= len(body) {
				return "", nil, false, errors.Wrapf(ErrInvalid, "##%s: unterminated quoted value", key)
			}
			i++ // closing quote
			val = sb.String()
		} else {
			end := strings.IndexByte(body[i:], ',')
			if end < 0 {
				end = len(body) - i
			}
			val = body[i : i+end]
			i += end
		}
		attrs[name] = val
		if i < len(body) {
			if body[i] != ',' {
				return "", nil, false, errors.Wrapf(ErrInvalid, "##%s: expected ',' after %s", key, name)
			}
			i++
		}
	}
	return key, attrs, true, nil
}

// GenotypeHeaderText renders a minimal VCF header declaring the given
// contigs, a GT FORMAT field and the given sample columns.
func GenotypeHeaderText(contigs []Contig, samples []string) string {
	var sb strings.Builder
	sb.WriteString("##fileformat=VCFv4.2\n")
	sb.WriteString("##FILTER=<ID=PASS,Description=\"All filters passed\">\n")
	for _, c := range contigs {
		if c.Length > 0 {
			fmt.Fprintf(&sb, "##contig=<ID=%s,length=%d>\n", c.Name, c.Length)
		} else {
			fmt.Fprintf(&sb, "##contig=<ID=%s>\n", c.Name)
		}
	}
	sb.WriteString("##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n")
	sb.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO")
	if len(samples) > 0 {
		sb.WriteString("\tFORMAT")
		for _, s := range samples {
			sb.WriteByte('\t')
			sb.WriteString(s)
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}
