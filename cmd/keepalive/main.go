package main

import (
	"os"

	"github.com/Dicklesworthstone/keepalive/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
