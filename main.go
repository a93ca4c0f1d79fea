// Package main is the entry point for the flowlens traffic monitor.
package main

import (
	"os"

	"firestige.xyz/flowlens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
