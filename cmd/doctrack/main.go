// Doctrack is a CLI companion to the DocTrack API. It runs the same
// comparison pipeline over local files.
//
// Usage:
//
//	doctrack compare old.txt new.txt
//	doctrack compare old.txt new.txt --format stats
//	doctrack compare old.txt new.txt --from-label v1 --to-label v2 --format json
package main

import (
	"os"

	"github.com/ni2-vsv11/DocTrack/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
