package main

import "github.com/killallgit/atelier/cmd"

func main() {
	cmd.Execute()
}
