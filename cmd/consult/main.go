package main

import "github.com/mediline/consult/internal/cli"

func main() {
	cli.Execute()
}
