// Package main provides the CLI entry point for the ZeroClaw agent runtime.
//
// ZeroClaw connects chat channels (Telegram, an in-process loopback for the
// terminal) to LLM providers (Anthropic, OpenAI-compatible endpoints) through
// a bounded tool-call loop, a reliability router with provider failover, and
// an autonomy policy engine that gates risky tool executions behind explicit
// approvals.
//
// # Basic Usage
//
// Start the runtime:
//
//	zeroclaw serve --config zeroclaw.yaml
//
// Chat from the terminal over the loopback channel:
//
//	zeroclaw chat --config zeroclaw.yaml
//
// Validate a configuration file:
//
//	zeroclaw config validate --config zeroclaw.yaml
//
// Manage the durable approve list:
//
//	zeroclaw approvals list
//	zeroclaw approvals grant shell
//	zeroclaw approvals revoke shell
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - TELEGRAM_BOT_TOKEN: Telegram bot token (overridden by config)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// defaultConfigName is the config file looked up in the working directory
// when --config is not given.
const defaultConfigName = "zeroclaw.yaml"

func main() {
	// Structured JSON logging until the config-driven logger takes over.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zeroclaw",
		Short: "ZeroClaw - channel-to-LLM agent runtime",
		Long: `ZeroClaw runs a bounded agent loop between chat channels and LLM providers.

Supported channels: Telegram, loopback (terminal)
Supported LLM providers: Anthropic (Claude), OpenAI-compatible endpoints
Reliability: per-request failover across model fallbacks and provider chains`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildConfigCmd(),
		buildApprovalsCmd(),
	)

	return rootCmd
}
