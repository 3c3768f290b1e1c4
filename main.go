package main

import "github.com/arbiterlabs/arbiter/cmd"

func main() {
	cmd.Execute()
}
