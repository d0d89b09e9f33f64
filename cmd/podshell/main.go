package main

import (
	"os"

	"github.com/podshell/podshell/cmd/podshell/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
