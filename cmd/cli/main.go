// Package main is the entry point for the duck-sandbox CLI binary.
package main

import (
	"os"

	cli "duck-sandbox/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
