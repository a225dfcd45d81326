package main

import (
	"os"

	"github.com/nhle/peertrust/cmd/peertrust/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
