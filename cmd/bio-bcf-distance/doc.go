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

/*
Given an indexed BCF file of diploid genotype calls, bio-bcf-distance reports
the pairwise identity-by-state distance between every two samples.

For each pair, the distance is the mean of |a-b|/2 over the biallelic sites
where neither sample's call is missing, where a and b count ALT alleles.  Sites
at which any sample has a call that is not a diploid biallelic genotype are
dropped for all samples, and records with more than one ALT allele are
skipped.  A pair with no usable site gets NaN.

The output is a tab-separated matrix with one row and column per sample,
labeled with the sample name stripped of directories and extensions.

The CSI index defaults to the input path with its extension replaced by
".bcf.csi"; bio-bcf-index can create one.

Sample usage:
bio-bcf-distance \
    --regions chr1,chr2:1-5000000 \
    --out distances.tsv \
    cohort.bcf
*/
package main
