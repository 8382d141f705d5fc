package main

import "github.com/vietddude/athena/internal/cli"

func main() {
	cli.Execute()
}
