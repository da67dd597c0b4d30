// Package cli implements the chatlink command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/config"
	"github.com/xiaot623/gogo/chatlink/internal/logger"
	"github.com/xiaot623/gogo/chatlink/internal/rag"
)

type app struct {
	wsURL    string
	apiURL   string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the root command wired to the process's standard streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the root command wired to the given streams.
func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "chatlink",
		Short:         "Terminal client for the streaming chat backend",
		Long:          "chatlink keeps a reconnecting WebSocket session with the chat backend, renders tool and connection activity, and manages the knowledge base.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.wsURL, "ws-url", "", "chat WebSocket endpoint (overrides CHAT_WS_URL)")
	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "knowledge-base API base URL (overrides API_BASE_URL)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	cmd.AddCommand(
		newChatCmd(a),
		newRagCmd(a),
		newDevserverCmd(a),
	)
	return cmd
}

// init loads configuration, applies flag overrides and builds the logger.
func (a *app) init() error {
	cfg := config.Load()
	if a.wsURL != "" {
		cfg.ChatWSURL = a.wsURL
	}
	if a.apiURL != "" {
		cfg.APIBaseURL = a.apiURL
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		JSON:    cfg.LogJSON,
		Console: a.stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.logger = log
	return nil
}

func (a *app) ragClient() *rag.Client {
	return rag.NewClient(a.cfg.APIBaseURL, a.cfg.HTTPTimeout)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
