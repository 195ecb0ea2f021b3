package interval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// PosType is the coordinate type of this package.
type PosType int32

const posTypeMax = math.MaxInt32

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// WholeContig reports whether e places no positional restriction on its
// contig.
func (e Entry) WholeContig() bool {
	return e.Start0 == 0 && e.End == posTypeMax-1
}

func (e Entry) String() string {
	if e.WholeContig() {
		return e.ChrName
	}
	return fmt.Sprintf("%s:%d-%d", e.ChrName, e.Start0+1, e.End)
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, posTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		return Entry{ChrName: region, Start0: 0, End: posTypeMax - 1}, nil
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID in %q", region)
		return
	}
	result.ChrName = region[:colonPos]
	rangeStr := region[colonPos+1:]
	start1Str, endStr := rangeStr, ""
	if dashPos := strings.IndexByte(rangeStr, '-'); dashPos != -1 {
		start1Str, endStr = rangeStr[:dashPos], rangeStr[dashPos+1:]
	}
	start1, err := strconv.ParseInt(start1Str, 10, 64)
	if err != nil {
		err = fmt.Errorf("interval.ParseRegionString: bad start in %q: %v", region, err)
		return
	}
	if start1 <= 0 || start1 >= posTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	end0 := start1
	if endStr != "" {
		if end0, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			err = fmt.Errorf("interval.ParseRegionString: bad end in %q: %v", region, err)
			return
		}
	}
	// end0 == posTypeMax is prohibited so that interval arrays never contain
	// repeats.
	if end0 < start1 || end0 >= posTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}

// ParseRegionList parses a comma- or whitespace-separated list of region
// strings.
func ParseRegionList(s string) ([]Entry, error) {
	var entries []Entry
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}) {
		e, err := ParseRegionString(tok)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
