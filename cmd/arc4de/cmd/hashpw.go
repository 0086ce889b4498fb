package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"arc4de/cmd/internal/app"
	"arc4de/cmd/security/password"

	"github.com/spf13/cobra"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its argon2id hash",
		Long: `Reads one line from stdin and prints an argon2id PHC string suitable for
ARC4DE_AUTH_PASSWORD_HASH. Argon2 parameters and the password policy follow
the ARC4DE_ARGON2_* and ARC4DE_PASSWORD_* variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := password.FromEnv(app.EnvPrefix)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password on stdin")
			}
			pw := strings.TrimRight(line, "\r\n")

			hash, err := cfg.Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
