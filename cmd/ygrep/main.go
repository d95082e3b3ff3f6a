// Package main provides the entry point for the ygrep CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/ygrep/cmd/ygrep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
