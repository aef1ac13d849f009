package main

import "github.com/audiolibrelab/mediakit/cmd"

func main() {
	cmd.Execute()
}
