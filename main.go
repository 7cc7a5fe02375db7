package main

import "github.com/Emperor-Trillion/TTS-Tool-sub000/cmd"

func main() {
	cmd.Execute()
}
