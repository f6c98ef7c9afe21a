package main

import "github.com/Elegant996/bitsyd/cmd/bitsyd/cmd"

func main() {
	cmd.Execute()
}
