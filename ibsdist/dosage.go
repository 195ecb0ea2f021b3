// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ibsdist

import (
	"fmt"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bcfdist/encoding/bcf"
	pkgerrors "github.com/pkg/errors"
)

// Dosage is the number of ALT alleles in a diploid biallelic call, or one of
// the sentinels Missing and Excluded.
type Dosage int8

const (
	// Missing marks a call with at least one missing allele.  It is kept in
	// the series and ignored pairwise.
	Missing Dosage = -1
	// Hom0 is REF/REF.
	Hom0 Dosage = 0
	// Het is REF/ALT in either order.
	Het Dosage = 1
	// Hom2 is ALT/ALT.
	Hom2 Dosage = 2
	// Excluded marks a call that cannot be interpreted as diploid biallelic.
	// Any site where some sample is Excluded is dropped for every sample.
	Excluded Dosage = 16
)

func (d Dosage) String() string {
	switch d {
	case Missing:
		return "."
	case Excluded:
		return "X"
	}
	return strconv.Itoa(int(d))
}

// alleleCode is the decoded form of one GT value.
type alleleCode int

const (
	alleleMissing     alleleCode = -1
	alleleEndOfVector alleleCode = -2
)

// decodeAllele turns one raw GT integer into an allele index, or one of
// alleleMissing and alleleEndOfVector.  The phase bit is discarded.
func decodeAllele(v int32) (alleleCode, error) {
	switch {
	case v == bcf.MissingInt32:
		return alleleMissing, nil
	case v == bcf.EndOfVectorInt32:
		return alleleEndOfVector, nil
	case v < 0:
		return 0, errors.E(errors.Integrity, fmt.Sprintf("GT value %d is negative and not a sentinel", v))
	}
	a := alleleCode(v>>1) - 1
	if a < 0 {
		return alleleMissing, nil
	}
	return a, nil
}

// DecodeGenotypes decodes the GT field of a record with nAllele alleles into
// dst, which must hold one entry per sample.  It returns ok=false, leaving
// dst untouched, if the record is not biallelic.
//
// Per sample, a missing allele yields Missing; otherwise a truncated ploidy
// or an allele index >= 2 yields Excluded; otherwise the dosage is the sum of
// the two allele indices.
func DecodeGenotypes(dst []Dosage, gt bcf.Field, nAllele int) (ok bool, err error) {
	if nAllele != 2 {
		return false, nil
	}
	if !gt.Type.IsInt() {
		return false, errors.E(errors.Invalid, pkgerrors.Wrapf(bcf.ErrInvalid, "GT has non-integer type %d", gt.Type))
	}
	if gt.PerSample != 2 {
		return false, errors.E(errors.Invalid, pkgerrors.Wrapf(bcf.ErrInvalid, "GT has %d values per sample, want 2", gt.PerSample))
	}
	if want := len(dst) * 2 * gt.Type.Size(); len(gt.Data) != want {
		return false, errors.E(errors.Invalid, pkgerrors.Wrapf(bcf.ErrInvalid, "GT payload has %d bytes, want %d for %d samples", len(gt.Data), want, len(dst)))
	}
	for i := range dst {
		a0, err := decodeAllele(gt.Int(2 * i))
		if err != nil {
			return false, err
		}
		a1, err := decodeAllele(gt.Int(2*i + 1))
		if err != nil {
			return false, err
		}
		switch {
		case a0 == alleleMissing || a1 == alleleMissing:
			dst[i] = Missing
		case a0 == alleleEndOfVector || a1 == alleleEndOfVector:
			dst[i] = Excluded
		case a0 >= 2 || a1 >= 2:
			dst[i] = Excluded
		default:
			dst[i] = Dosage(a0 + a1)
		}
	}
	return true, nil
}
