package main

import "github.com/sergev/fluxarc/cmd"

func main() {
	cmd.Execute()
}
