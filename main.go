package main

import (
	"os"

	"github.com/avolkov/personaclone/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
