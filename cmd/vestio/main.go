package main

import "github.com/vestio/vestio/cmd/vestio/cmd"

func main() {
	cmd.Execute()
}
