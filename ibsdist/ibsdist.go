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
	"context"
	"math"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bcfdist/encoding/bcf"
	"github.com/grailbio/bcfdist/encoding/bcfprovider"
	"github.com/grailbio/bcfdist/interval"
)

// Opts configures Compute.
type Opts struct {
	// Index is the CSI index path.  If "", bcfprovider.DefaultIndexPath is
	// applied to the input path.
	Index string
	// Regions restricts the computation to a comma- or space-separated list
	// of regions, each formatted as <contig>, <contig>:<1-based pos> or
	// <contig>:<1-based first pos>-<last pos>.  If "", every contig of the
	// header is used.  Overlapping regions are merged, and a record is read
	// only by the region that holds its start position.
	Regions string
	// BEDPath, if nonempty, restricts the computation to records overlapping
	// the intervals of this BED file.
	BEDPath string
	// Parallelism bounds the number of concurrent region readers and
	// distance workers.  0 means runtime.NumCPU().
	Parallelism int
	// FallbackCapacity is the number of sites reserved per sample for a
	// region when the index does not record a record count.
	FallbackCapacity int
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	Parallelism:      0,
	FallbackCapacity: 1 << 16,
}

// Result is the output of Compute.
type Result struct {
	// Names are the sample names, in header order.  Row and column i of
	// Matrix belong to Names[i].
	Names  []string
	Matrix *Matrix
	// Sites is the number of sites that entered the distance computation.
	Sites int
	// Excluded is the number of biallelic sites dropped because at least one
	// sample's call could not be interpreted.
	Excluded int
	// Stats summarizes the records read.
	Stats AggregateStats
	// Digest is Matrix.Digest().
	Digest uint64
}

// Compute reads the genotypes of every sample in the BCF file at path and
// returns their pairwise distance matrix.
func Compute(ctx context.Context, path string, opts Opts) (res *Result, err error) {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	fallback := opts.FallbackCapacity
	if fallback <= 0 {
		fallback = DefaultOpts.FallbackCapacity
	}

	provider := &bcfprovider.Provider{Path: path, Index: opts.Index}
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	header, err := provider.GetHeader()
	if err != nil {
		return nil, err
	}
	if _, err = provider.GetIndex(); err != nil {
		return nil, err
	}
	regions, err := provider.Regions(opts.Regions)
	if err != nil {
		return nil, err
	}
	regions = bcfprovider.Disjoint(regions)
	gtKey, ok := header.StringID("GT")
	if !ok {
		gtKey = -1
	}
	nSample := len(header.Samples)

	var keep func(*bcf.Record) bool
	if opts.BEDPath != "" {
		bed, err := interval.NewBEDUnionFromPath(ctx, opts.BEDPath, interval.NewBEDOpts{Header: header})
		if err != nil {
			return nil, errors.E("bed", opts.BEDPath, err)
		}
		regions = bedRegions(regions, &bed)
		keep = func(rec *bcf.Record) bool {
			end := rec.End()
			if end <= rec.Pos {
				end = rec.Pos + 1
			}
			return bed.IntersectsByID(int(rec.Chrom), interval.PosType(rec.Pos), interval.PosType(end))
		}
		log.Printf("ibsdist: restricting to %d bases of %s", bed.TotalBases(), opts.BEDPath)
	}

	log.Printf("ibsdist: reading %d samples from %d regions of %s", nSample, len(regions), path)
	parts := make([]Series, len(regions))
	stats := make([]AggregateStats, len(regions))
	err = traverse.Limit(parallelism).Each(len(regions), func(i int) error {
		region := regions[i]
		capacity := provider.CapacityHint(region.RefID)
		if capacity <= 0 {
			capacity = fallback
		}
		iter := provider.NewIterator(region)
		s, st, err := aggregate(iter, gtKey, nSample, capacity, keep)
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
		if err != nil {
			return errors.E("region", region.String(), err)
		}
		parts[i] = s
		stats[i] = st
		log.Debug.Printf("ibsdist: %v: %d records, %d sites, %d skipped", region, st.Records, s.Len(), st.Skipped)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res = &Result{Names: header.Samples}
	for _, st := range stats {
		res.Stats.Add(st)
	}
	series := Concat(parts, nSample)
	if int64(series.Len()) > math.MaxUint32 {
		return nil, errors.E(errors.Invalid, "too many sites for the site mask")
	}
	mask := NewSiteMask(series, parallelism)
	series = mask.Apply(series, parallelism)
	res.Excluded = mask.NumExcluded()
	res.Sites = series.Len()
	log.Printf("ibsdist: %d records read, %d non-biallelic skipped, %d sites excluded, %d sites kept",
		res.Stats.Records, res.Stats.Skipped, res.Excluded, res.Sites)

	res.Matrix = ComputeMatrix(series, parallelism)
	res.Digest = res.Matrix.Digest()
	log.Printf("ibsdist: computed %dx%d matrix, digest %016x", nSample, nSample, res.Digest)
	return res, nil
}

// bedRegions drops the regions whose contig has no BED interval.
func bedRegions(regions []bcfprovider.Region, bed *interval.BEDUnion) []bcfprovider.Region {
	var kept []bcfprovider.Region
	for _, r := range regions {
		if bed.MentionsID(r.RefID) {
			kept = append(kept, r)
		}
	}
	return kept
}
