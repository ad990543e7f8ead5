package main

import "yieldvault/internal/cli"

func main() {
	cli.Execute()
}
