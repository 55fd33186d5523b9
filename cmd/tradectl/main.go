package main

import "tradectl/internal/cli"

func main() {
	cli.Execute()
}
