package main

import (
	"os"

	"github.com/agilbank/concierge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
