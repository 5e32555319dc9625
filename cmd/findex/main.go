package main

import (
	"os"

	"github.com/findexd/findex/cmd/findex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
