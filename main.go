package main

import "github.com/nextlevelbuilder/kirogate/cmd"

func main() {
	cmd.Execute()
}
