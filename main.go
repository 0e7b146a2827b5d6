package main

import "github.com/caravel-sh/caravel/cmd"

func main() {
	cmd.Execute()
}
