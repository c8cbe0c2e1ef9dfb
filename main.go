package main

import "github.com/inference-sim/kvrouter/cmd"

func main() {
	cmd.Execute()
}
