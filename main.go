package main

import (
	"fmt"
	"os"

	"github.com/thatcatdev/tether/cmd"
	"github.com/thatcatdev/tether/internal/lifecycle"
)

func main() {
	defer lifecycle.RunAll()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		lifecycle.Exit(1)
	}
}
