// Command kbctl drives the knowledge-vault orchestrator from a terminal.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kbflow/internal/app"
	"kbflow/internal/config"
	"kbflow/internal/gateway"
	"kbflow/internal/logging"
)

var (
	cfg     *config.Config
	logger  *zap.Logger
	orch    *app.Orchestrator
	verbose bool
	asJSON  bool
)

var rootCmd = &cobra.Command{
	Use:           "kbctl",
	Short:         "Manage knowledge vaults, agents and chat sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		logger, err = newLogger(cfg.Log, verbose)
		if err != nil {
			return err
		}

		orch = newOrchestrator(cfg, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// newLogger uses the configured log settings; --verbose only raises the level.
func newLogger(logCfg config.LogConfig, verbose bool) (*zap.Logger, error) {
	if verbose {
		logCfg.Level = zapcore.DebugLevel.String()
	}
	return logging.New(logCfg)
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger) *app.Orchestrator {
	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Remote.BaseURL,
		AdminToken: cfg.Remote.AdminToken,
		Timeouts: gateway.Timeouts{
			Ping:   cfg.Remote.Timeout(cfg.Remote.PingTimeoutSeconds),
			Read:   cfg.Remote.Timeout(cfg.Remote.ReadTimeoutSeconds),
			Upload: cfg.Remote.Timeout(cfg.Remote.UploadTimeoutSeconds),
			Index:  cfg.Remote.Timeout(cfg.Remote.IndexTimeoutSeconds),
			Chat:   cfg.Remote.Timeout(cfg.Remote.ChatTimeoutSeconds),
		},
	}, logger)
	return app.NewOrchestrator(gw,
		app.NewVaultRegistry(gw, nil, logger),
		app.NewAgentRegistry(gw, nil, logger),
		app.NewChatController(gw, nil, logger, app.WithSnippetLimit(cfg.Chat.SnippetLimit)),
		logger,
		app.Options{RequireReadyVault: cfg.Chat.RequireReadyVault})
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log remote calls")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(pingCmd, tokenCmd, vaultCmd, agentCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
