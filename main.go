package main

import (
	"os"

	"github.com/stratapipe/strata/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
