/*Command bio-bcf-index reads a .bcf file and writes a .csi index
  file.  bio-bcf-index expects the bcf file to arrive on stdin, and
  writes to stdout.  --min-shift and --depth set the size of the
  smallest bin and the number of bin levels.

  Usage: cat foo.bcf | bio-bcf-index > foo.bcf.csi
*/
package main
