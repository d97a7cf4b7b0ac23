package main

import (
	"os"

	"github.com/credo/carbon-engine/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
