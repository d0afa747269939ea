package main

import "github.com/braydio/Override-RSA/cmd"

func main() {
	cmd.Execute()
}
