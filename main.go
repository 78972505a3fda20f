package main

import "github.com/nextlevelbuilder/opengoat/cmd"

func main() {
	cmd.Execute()
}
