package main

import (
	"os"

	"github.com/weftlabs/meshbond/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
