package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/warden/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand(os.Stdout)

	err := rootCmd.Execute(context.Background(), os.Args[1:])
	var exitErr *cli.ExitCodeError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
