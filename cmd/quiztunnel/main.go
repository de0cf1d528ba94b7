package main

import (
	"os"

	"github.com/webquiz/quiztunnel/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
