package main

import "github.com/mcoot/storyguess/internal/cli"

func main() {
	cli.Execute()
}
