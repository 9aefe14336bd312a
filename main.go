package main

import (
	"os"

	"github.com/taskferry/taskferry/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
