package main

import "github.com/pyparrot/parrotctl/cmd"

func main() {
	cmd.Execute()
}
