package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/vibepanel/vibepanel/internal/colors"
)

func main() {
	os.Exit(run(os.Args[1:], newClient))
}

// run executes the command line and returns the process exit code.
func run(args []string, build func() (*client, error)) int {
	colors.StructuredInfo("startup", "main", "started", nil, map[string]any{"args": len(args)})

	c, err := build()
	if err != nil {
		colors.StructuredError("startup", "main", "failed", err, nil)
		colors.Error(err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(c)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		colors.StructuredError("startup", "main", "failed", err, nil)
		colors.Error(err.Error())
		return 1
	}
	colors.StructuredInfo("startup", "main", "completed", nil, nil)
	return 0
}
