package main

import (
	"os"

	"github.com/raedjah1/adtbot/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
