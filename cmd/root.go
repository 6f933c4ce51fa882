package cmd

import (
	"context"
	"fmt"
	"strings"
)

const usage = `koinomae-api mediates between the chat front-end and the completion API.

Usage:
  koinomae-api serve [flags]
  koinomae-api score [flags]

Commands:
  serve    Start the HTTP server
  score    Grade a transcript read from a file or stdin

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "score":
		return score(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
