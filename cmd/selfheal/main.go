package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lucasnoah/selfheal/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		code := 1
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
			if exitErr.Err == nil {
				os.Exit(code)
			}
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}
