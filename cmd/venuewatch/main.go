package main

import (
	"venuewatch/internal/cli"
)

func main() {
	cli.Execute()
}
