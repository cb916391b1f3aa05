package main

import (
	"os"

	"github.com/Additional-Code/foodpass/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
