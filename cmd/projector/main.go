package main

import "github.com/vietddude/projector/internal/cli"

func main() {
	cli.Execute()
}
