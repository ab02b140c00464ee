package main

import (
	"os"

	mcpcmder "github.com/canopyhq/canopy/cmd/canopy/serve/mcp"
)

func main() {
	cmd := mcpcmder.NewMCPCmd()
	cmd.Use = "canopymcp"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
