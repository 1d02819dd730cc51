package main

import "github.com/nextlevelbuilder/toolgate/cmd"

func main() {
	cmd.Execute()
}
