package main

import (
	"os"

	"github.com/filterfs/filterfs/cmd/filterfs/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		app.PrintHint(os.Stderr, err)
		os.Exit(1)
	}
}
