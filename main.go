package main

import (
	"os"

	"chatdesk/cli"
)

func main() {
	os.Exit(cli.Execute())
}
