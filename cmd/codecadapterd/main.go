// Package main is the entry point for codecadapterd, a standalone demo
// harness for the codecadapter package: it drives one codec component
// (an ffmpeg-backed Backend) from one elementary stream pulled out of an
// MPEG-TS source, end to end, to exercise the lifecycle outside tests.
package main

import (
	"os"

	"github.com/jmylchreest/tvarr/cmd/codecadapterd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
