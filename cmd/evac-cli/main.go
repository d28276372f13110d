// Command evac-cli is a maintenance tool for an evac installation
package main

import (
	"os"

	"github.com/versatilecz/evac/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
