package main

import (
	"os"

	"github.com/dshills/mmifviz/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
