/*Package interval implements region strings and interval-union operations
  for genomic coordinates given by region arguments or BED files.
  (Note the 'union'.  Overlapping intervals are merged, not tracked
  separately.)
  It assumes every position fits in a PosType, which is int32 since that's
  what BCF POS is limited to.
*/
package interval
