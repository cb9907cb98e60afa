package main

import (
	"github.com/matjam/waypaper/internal/cli"
)

func main() {
	cli.Execute()
}
