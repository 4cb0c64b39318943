package main

import (
	"os"

	"github.com/harun/sqlask/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
