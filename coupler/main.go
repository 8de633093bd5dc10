package main

import "github.com/partsim/coupler/coupler/cmd"

func main() {
	cmd.Execute()
}
