// Command locodata manages the trajectory cache of locomotion
// environments. It pre-populates a cache directory so that imitation
// environments can later be built without network access, and prints
// or renders individual trajectories.
//
// Settings are read from a .env file and from the environment
// variables LOCO_CACHE_DIR, LOCO_REMOTE_URL, LOCO_DATA_DIR and
// LOCO_LOG_LEVEL. Flags override them.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
)

// EnvLogLevel sets the default log level
const EnvLogLevel = "LOCO_LOG_LEVEL"

func main() {
	for _, envFile := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "locodata:", err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel  string
	logFormat string
}

// newRootCmd returns the locodata command writing results to out and
// logs to errOut
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "locodata",
		Short:         "Populate and inspect the locomotion trajectory cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := ctxlog.New(opts.logLevel, opts.logFormat, errOut)
			slog.SetDefault(logger)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	level := os.Getenv(EnvLogLevel)
	if level == "" {
		level = "info"
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", level,
		"log level (debug, info, warn or error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text",
		"log format (text or json)")

	root.AddCommand(newPopulateCmd(), newInfoCmd(), newRenderCmd())

	return root
}
