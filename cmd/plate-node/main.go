package main

import "plate-node/internal/cli"

func main() {
	cli.Execute()
}
