package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/PratikDhanave/email-event-registry/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	// Flag and argument errors from cobra carry no exit code.
	code := cli.ExitCommandError
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	// A missed lookup has already been reported on stdout.
	if code != cli.ExitFailure {
		fmt.Fprintln(os.Stderr, "eventctl:", err)
	}
	os.Exit(code)
}
