package main

import (
	"os"

	apicmder "github.com/canopyhq/canopy/cmd/canopy/serve/api"
)

func main() {
	cmd := apicmder.NewAPICmd()
	cmd.Use = "canopyapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .canopy/ config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
