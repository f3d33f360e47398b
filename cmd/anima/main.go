package main

import "github.com/anima/anima-backend/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
