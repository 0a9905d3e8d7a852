package main

import (
	"os"

	"github.com/solatis/dualcheck/cmd/dualcheck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
