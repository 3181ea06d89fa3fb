package main

import "coinpipe/internal/cli"

func main() {
	cli.Execute()
}
