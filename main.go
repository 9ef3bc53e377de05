// Package main is the entry point for the pcapminer worker and coordinator.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/pcapminer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
