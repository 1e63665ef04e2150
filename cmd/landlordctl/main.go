package main

import (
	"os"

	"github.com/ashrafbeshtawi/Landlord-sub000/cmd/landlordctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
