package main

import "github.com/michal-majer/s4kit-gateway/cmd"

func main() {
	cmd.Execute()
}
