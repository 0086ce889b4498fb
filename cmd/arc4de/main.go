package main

import (
	"os"

	"arc4de/cmd/arc4de/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
