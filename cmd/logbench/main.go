package main

import (
	"os"

	"logbench/cmd/logbench/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
