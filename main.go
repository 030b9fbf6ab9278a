// Package main is the entry point for the harvester application
package main

import "github.com/ethpandaops/harvester/cmd"

func main() {
	cmd.Execute()
}
