package main

import (
	"log"

	"github.com/hookbridge/hookbridge/cmd/bridgectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
