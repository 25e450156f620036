// Command carifit crawls job postings into per-category vector collections
// and matches candidate profiles against them.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
