package main

import (
	"os"

	"chunkrelay/cmd/relay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
