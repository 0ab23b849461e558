// Package main is the entry point of the vgrep CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/vgrep/cmd/vgrep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
