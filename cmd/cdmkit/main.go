package main

import (
	"os"

	"cdmkit/cmd/cdmkit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
