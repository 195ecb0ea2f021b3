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
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

// ShortName strips any directory prefix and every extension from a sample
// name, e.g. "/data/NA12878.final.cram" becomes "NA12878".
func ShortName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

func formatDistance(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteMatrix writes m as a tab-separated table.  The first line holds an
// empty cell followed by the short sample names; each following line holds
// one sample's short name and its row of m, diagonal included.
func WriteMatrix(w io.Writer, names []string, m *Matrix) (err error) {
	if len(names) != m.Len() {
		return errors.E(errors.Invalid, "write matrix:", strconv.Itoa(len(names)), "names for a matrix of size", strconv.Itoa(m.Len()))
	}
	tw := tsv.NewWriter(w)
	short := make([]string, len(names))
	tw.WriteString("")
	for i, name := range names {
		short[i] = ShortName(name)
		tw.WriteString(short[i])
	}
	if err = tw.EndLine(); err != nil {
		return err
	}
	for i := range names {
		tw.WriteString(short[i])
		for j := range names {
			tw.WriteString(formatDistance(m.At(i, j)))
		}
		if err = tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteMatrixToPath writes m to path as WriteMatrix does.  If bgzip is set,
// the output is BGZF-compressed using parallelism compression goroutines.
func WriteMatrixToPath(ctx context.Context, path string, bgzip bool, parallelism int, names []string, m *Matrix) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if !bgzip {
		return WriteMatrix(dst.Writer(ctx), names, m)
	}
	bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), workers(parallelism))
	defer func() {
		if e := bgzfWriter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return WriteMatrix(bgzfWriter, names, m)
}
