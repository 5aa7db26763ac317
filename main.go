package main

import "github.com/agentic-research/lcimorph/cmd"

func main() {
	cmd.Execute()
}
