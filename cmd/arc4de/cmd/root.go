// Package cmd holds the arc4de command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. Tests build a fresh tree per case.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "arc4de",
		Short: "ARC4DE is a remote terminal session gateway",
		Long: `ARC4DE exposes tmux sessions on this host to an authenticated browser or
mobile client over a WebSocket, with REST endpoints for session management.

Configuration is read from ARC4DE_* environment variables.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newHashPasswordCmd(), newSessionsCmd())
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
