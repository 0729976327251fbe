package main

import (
	"os"

	"dehusk/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
