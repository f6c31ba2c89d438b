package main

import (
	"os"

	"panelfleet/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
