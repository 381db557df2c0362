package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the runtime.
// This is the primary command for running ZeroClaw in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ZeroClaw runtime",
		Long: `Start the ZeroClaw runtime with all configured channels and providers.

The runtime will:
1. Load and validate configuration from the specified file
2. Wire credential resolution, the provider router, and the autonomy engine
3. Start all enabled channel adapters (Telegram, loopback)
4. Serve Prometheus metrics when an address is configured
5. Export OTLP traces when an endpoint is configured

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  zeroclaw serve

  # Start with custom config
  zeroclaw serve --config /etc/zeroclaw/production.yaml

  # Start with debug logging
  zeroclaw serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildChatCmd creates the "chat" command: an interactive terminal session
// over the in-process loopback channel.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		Long: `Run an interactive session over the loopback channel.

Each line you type is dispatched as one agent turn; slash commands such as
/approve-confirm work exactly as they do on remote channels.`,
		Example: `  zeroclaw chat
  zeroclaw chat --config /etc/zeroclaw/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	return cmd
}

// buildApprovalsCmd creates the "approvals" command group for managing the
// durable tool approve list outside a running session.
func buildApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage the persistent tool approve list",
	}
	cmd.AddCommand(
		buildApprovalsListCmd(),
		buildApprovalsGrantCmd(),
		buildApprovalsRevokeCmd(),
		buildApprovalsDenyCmd(),
		buildApprovalsAllowCmd(),
	)
	return cmd
}

func buildApprovalsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approved tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildApprovalsGrantCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "grant <tool>",
		Short: "Approve a tool for autonomous execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsGrant(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildApprovalsRevokeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "revoke <tool>",
		Short: "Remove a tool from the approve list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsRevoke(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildApprovalsDenyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "deny <tool>",
		Short: "Deny-list a tool so it is refused even when approved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsDeny(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildApprovalsAllowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "allow <tool>",
		Short: "Remove a tool from the deny list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsAllow(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to configuration file (YAML or JSON5)")
	return cmd
}
