// Command litertlm-cli is an interactive REPL driving litert/session and
// litert/convo against the in-process core.StubRunner backend — a local
// smoke-test harness for the runtime the way
// digitallysavvy-go-ai/examples/cli-chat/main.go is a smoke-test harness
// for that SDK's streaming API, grounded on
// haasonsaas-nexus/cmd/nexus/main.go's buildRootCmd/cobra structure.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build
// (haasonsaas-nexus/cmd/nexus/main.go's version/commit/date convention).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	rootCmd := buildRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command execution failed")
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing, following
// haasonsaas-nexus/cmd/nexus/main.go's buildRootCmd.
func buildRootCmd(logger zerolog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "litertlm-cli",
		Short:        "litertlm-go - on-device LLM serving runtime",
		Long:         "litertlm-cli drives the litert runtime's session/conversation layers over an in-process demo backend for local exploration and smoke-testing.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildChatCmd(logger))
	return rootCmd
}
