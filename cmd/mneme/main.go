package main

import "github.com/felixgeelhaar/mneme/cmd/mneme/cli"

func main() {
	cli.Execute()
}
