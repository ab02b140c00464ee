package main

import (
	"os"

	canopycmder "github.com/canopyhq/canopy/cmd/canopy"
)

func main() {
	cmd := canopycmder.NewCanopyCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
