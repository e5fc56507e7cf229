package main

import (
	"os"

	"github.com/charmbracelet/log"
)

func main() {
	if err := executeCLI(); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}
