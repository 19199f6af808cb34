package main

import (
	"fmt"
	"os"

	"avatard/internal/ctl"
)

func main() {
	root := ctl.BuildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "avatarctl: %v\n", err)
		os.Exit(1)
	}
}
