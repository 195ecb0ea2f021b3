package main

// See doc.go for documentation
import (
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bcfdist/encoding/csi"
)

var (
	minShift = flag.Int("min-shift", csi.DefaultMinShift, "log2 of the width of the smallest bin")
	depth    = flag.Int("depth", csi.DefaultDepth, "Number of levels below the root bin")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	r := io.Reader(os.Stdin)
	w := io.Writer(os.Stdout)

	if err := csi.WriteIndex(w, r, *minShift, *depth, runtime.NumCPU()); err != nil {
		log.Fatalf("bio-bcf-index: %v", err)
	}
}
