package main

import (
	"os"

	"github.com/vesperbase/vesper/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
