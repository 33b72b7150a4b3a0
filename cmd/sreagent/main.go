package main

import (
	"os"

	"github.com/wwwzy/SREAgent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
