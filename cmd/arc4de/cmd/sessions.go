package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"arc4de/cmd/internal/app"
	"arc4de/cmd/internal/sessions"
	"arc4de/cmd/internal/tmux"

	"github.com/spf13/cobra"
)

// newMultiplexer is replaced in tests.
var newMultiplexer = func(binary string) sessions.Multiplexer {
	return tmux.New(binary, nil)
}

func newSessionsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clean up gateway sessions on the local tmux server",
	}
	c.AddCommand(newSessionsListCmd(), newSessionsKillCmd(), newSessionsCleanupCmd())
	return c
}

func openRegistry(cmd *cobra.Command) (*sessions.Registry, app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, app.Config{}, err
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return sessions.NewRegistry(newMultiplexer(cfg.TmuxBinary), log), cfg, nil
}

func newSessionsListCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List gateway sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			all, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				out := make([]sessions.Descriptor, 0, len(all))
				for _, s := range all {
					out = append(out, sessions.Describe(s))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTMUX\tSTATE\tCREATED")
			for _, s := range all {
				created := "-"
				if !s.CreatedAt.IsZero() {
					created = s.CreatedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.TmuxName, s.State, created)
			}
			return tw.Flush()
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return c
}

func newSessionsKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill ID",
		Short: "Kill one gateway session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			if err := reg.Kill(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("kill %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "killed %s\n", args[0])
			return nil
		},
	}
}

func newSessionsCleanupCmd() *cobra.Command {
	var (
		ttl            time.Duration
		includeOrphans bool
	)
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "Kill gateway sessions older than the TTL",
		Long: `Kills gateway sessions older than the TTL.

This command starts with an empty registry, so every session it finds is an
orphan with no recorded creation time and is kept. Pass --include-orphans to
age orphans by the creation time tmux reports instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cfg, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.SessionTTL
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive, got %s", ttl)
			}

			removed, err := reg.CleanupExpired(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			if includeOrphans {
				orphans, err := reg.CleanupOrphans(cmd.Context(), ttl)
				if err != nil {
					return err
				}
				removed = append(removed, orphans...)
			}

			for _, id := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "killed %s\n", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d session(s) removed (ttl %s)\n", len(removed), ttl)
			return nil
		},
	}
	c.Flags().DurationVar(&ttl, "ttl", sessions.DefaultTTL, "maximum session age (defaults to ARC4DE_SESSION_TTL)")
	c.Flags().BoolVar(&includeOrphans, "include-orphans", false, "also expire sessions without a recorded creation time, using tmux's own")
	return c
}
