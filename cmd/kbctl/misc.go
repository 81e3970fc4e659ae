package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kbflow/internal/pkg/jwtutil"
)

var tokenTTL time.Duration

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the knowledge-base service answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := orch.Ping(cmd.Context())
		if err != nil {
			return fmt.Errorf("cannot reach %s: %w", cfg.Remote.BaseURL, err)
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%d vaults, %s)\n",
			cfg.Remote.BaseURL, result.VaultCount, result.Latency.Round(time.Millisecond))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [operator]",
	Short: "Issue a bearer token for the server's admin routes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
		}
		token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, ttl, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to auth.jwt_expire_minute)")
}
