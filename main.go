package main

import (
	"os"

	"github.com/mfreeman/visatrack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
