package main

import "hotel-cache-loss/internal/cli"

func main() {
	cli.Execute()
}
