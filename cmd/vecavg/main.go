package main

import (
	"errors"
	"fmt"
	"os"

	"vecavg/cmd/internal/app"
)

func main() {
	err := app.Run(os.Args[1:])
	switch {
	case err == nil, errors.Is(err, app.ErrHelp):
		return
	case errors.Is(err, app.ErrUsage):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "vecavg: %v\n", err)
		os.Exit(1)
	}
}
