package main

import (
	"os"

	"github.com/baldanca/log-puller/cmd/log-pullerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
