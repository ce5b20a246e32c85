package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
