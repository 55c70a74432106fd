package main

import (
	"os"

	"github.com/rustyeddy/emacross/cmd/emacross/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
