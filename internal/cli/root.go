package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/webquiz/quiztunnel/internal/config"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loadEnvFromDotEnv(config.ResolvePath(".env"))

	if len(args) == 0 {
		return runServe(ctx, nil)
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "keys":
		return runKeys(args[1:])
	case "resolve":
		return runResolve(ctx, args[1:])
	case "version", "--version", "-v":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		return runServe(ctx, args)
	}
}
