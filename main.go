package main

import "github.com/gwyntel/splintertree/cmd"

func main() {
	cmd.Execute()
}
