// Package main is the entry point for the acerestreamer application.
package main

import (
	"os"

	"github.com/kism/acerestreamer/cmd/acerestreamer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
