package main

import "github.com/nextlevelbuilder/clawcore/cmd"

func main() {
	cmd.Execute()
}
