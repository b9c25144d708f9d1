package main

import (
	"fmt"
	"os"

	"github.com/spatialpump/spatialpump/cmd"
	"github.com/spatialpump/spatialpump/internal/conf"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx := &conf.Context{Version: version}
	if err := cmd.RootCommand(ctx).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
