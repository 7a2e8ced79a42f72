package main

import (
	"os"

	"github.com/solatis/rulefilter/cmd/rulefilter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
