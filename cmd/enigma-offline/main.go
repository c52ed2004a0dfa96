package main

import "github.com/meigma/offline/cmd/enigma-offline/cmd"

func main() {
	cmd.Execute()
}
