package main

import (
	"os"
	_ "time/tzdata"

	"github.com/dm-alt/USM-scripts/cmd/hourly/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
