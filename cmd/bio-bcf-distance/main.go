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
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bcfdist/ibsdist"
)

var (
	indexPath        = flag.String("index", ibsdist.DefaultOpts.Index, "Input CSI index path. Defaults to the input path with its extension replaced by .bcf.csi")
	regions          = flag.String("regions", ibsdist.DefaultOpts.Regions, "Comma-separated regions to read, each formatted as <contig>, <contig>:<1-based pos> or <contig>:<1-based first pos>-<last pos>. Defaults to every contig in the header")
	bedPath          = flag.String("bed", ibsdist.DefaultOpts.BEDPath, "If set, only records overlapping this BED file's intervals are used")
	outPath          = flag.String("out", "", "Output TSV path; stdout if empty")
	bgzip            = flag.Bool("bgzip", false, "BGZF-compress the output; requires -out")
	parallelism      = flag.Int("parallelism", ibsdist.DefaultOpts.Parallelism, "Maximum number of concurrent region readers and distance workers; 0 = runtime.NumCPU()")
	fallbackCapacity = flag.Int("fallback-capacity", ibsdist.DefaultOpts.FallbackCapacity, "Sites reserved per sample for a region whose record count is not in the index")
)

func bioBCFDistanceUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bcfpath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// run computes the distance matrix of the BCF file at path and writes it to
// out, or to stdout if out is empty.
func run(ctx context.Context, path string, opts ibsdist.Opts, out string, bgzip bool, stdout io.Writer) error {
	if bgzip && out == "" {
		return fmt.Errorf("-bgzip requires -out")
	}
	res, err := ibsdist.Compute(ctx, path, opts)
	if err != nil {
		return err
	}
	if out == "" {
		return ibsdist.WriteMatrix(stdout, res.Names, res.Matrix)
	}
	return ibsdist.WriteMatrixToPath(ctx, out, bgzip, opts.Parallelism, res.Names, res.Matrix)
}

func main() {
	flag.Usage = bioBCFDistanceUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Expected exactly one positional argument (bcfpath); please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()
	opts := ibsdist.Opts{
		Index:            *indexPath,
		Regions:          *regions,
		BEDPath:          *bedPath,
		Parallelism:      *parallelism,
		FallbackCapacity: *fallbackCapacity,
	}
	if err := run(ctx, flag.Arg(0), opts, *outPath, *bgzip, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
