package main

import "mailpacer/internal/cli"

func main() {
	cli.Execute()
}
