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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bcfdist/encoding/bcf"
	pkgerrors "github.com/pkg/errors"
)

// RecordIterator is the subset of bcfprovider.Iterator consumed by
// Aggregate.
type RecordIterator interface {
	Scan() bool
	Record() *bcf.Record
	Err() error
}

// AggregateStats counts the records consumed by Aggregate.
type AggregateStats struct {
	// Records is the number of records read from the stream.
	Records int
	// Skipped is the number of records that were not biallelic.
	Skipped int
	// OutsideBED is the number of records dropped by a BED restriction.
	OutsideBED int
}

// Add accumulates o into s.
func (s *AggregateStats) Add(o AggregateStats) {
	s.Records += o.Records
	s.Skipped += o.Skipped
	s.OutsideBED += o.OutsideBED
}

// Aggregate decodes every record of iter and appends one dosage per sample
// for each biallelic record.  gtKey is the string-dictionary ID of the GT key,
// or -1 if the header does not declare it.  capacity is the initial length
// reserved for each sample's sequence.
func Aggregate(iter RecordIterator, gtKey, nSample, capacity int) (Series, AggregateStats, error) {
	return aggregate(iter, gtKey, nSample, capacity, nil)
}

// aggregate is Aggregate with an optional record filter.  Records for which
// keep returns false are counted in OutsideBED and not decoded.
func aggregate(iter RecordIterator, gtKey, nSample, capacity int, keep func(*bcf.Record) bool) (Series, AggregateStats, error) {
	var stats AggregateStats
	s := NewSeries(nSample, capacity)
	row := make([]Dosage, nSample)
	for iter.Scan() {
		rec := iter.Record()
		stats.Records++
		if keep != nil && !keep(rec) {
			stats.OutsideBED++
			continue
		}
		if rec.NAllele != 2 {
			stats.Skipped++
			continue
		}
		if rec.NSample != nSample {
			return nil, stats, errors.E(errors.Invalid, recordName(rec),
				pkgerrors.Wrapf(bcf.ErrInvalid, "record has %d samples, header has %d", rec.NSample, nSample))
		}
		if nSample == 0 {
			// Sites-only file: there is nothing to decode.
			continue
		}
		var (
			gt  bcf.Field
			ok  bool
			err error
		)
		if gtKey >= 0 {
			if gt, ok, err = rec.Format(gtKey); err != nil {
				return nil, stats, errors.E(errors.Invalid, recordName(rec), err)
			}
		}
		if !ok {
			return nil, stats, errors.E(errors.Invalid, recordName(rec),
				pkgerrors.Wrap(bcf.ErrInvalid, "biallelic record has no GT field"))
		}
		if _, err = DecodeGenotypes(row, gt, rec.NAllele); err != nil {
			return nil, stats, errors.E(recordName(rec), err)
		}
		for i, d := range row {
			s[i] = append(s[i], d)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, stats, err
	}
	return s, stats, nil
}

func recordName(rec *bcf.Record) string {
	return fmt.Sprintf("record at contig %d position %d:", rec.Chrom, int64(rec.Pos)+1)
}
