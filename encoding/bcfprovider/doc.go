// Package bcfprovider provides utilities for scanning an indexed BCF file in
// parallel.
//
// A Provider owns the file path and the parsed header and CSI index, which
// are shared read-only.  Every Iterator opens its own file handle and BGZF
// cursor, so iterators over different regions may run concurrently without
// locking.  Closed iterators are kept in a free pool and reused.
package bcfprovider
