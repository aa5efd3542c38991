package main

import "github.com/kenneth/djbf-gateway/cmd/djbf/cmd"

func main() {
	cmd.Execute()
}
