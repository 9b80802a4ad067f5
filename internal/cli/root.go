package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/batchpoll/internal/config"
	"github.com/me/batchpoll/internal/logging"
)

var (
	flagServer    string
	flagToken     string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking BATCHPOLL_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("BATCHPOLL_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the batchpoll CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "batchpoll",
		Short: "batchpoll - watch upstream batches and fire completion triggers",
		Long:  "batchpoll manages polling jobs and the credentials they use on a batchpoll server.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, flagToken, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "batchpoll server URL (or BATCHPOLL_SERVER env)")
	root.PersistentFlags().StringVar(&flagToken, "admin-token", os.Getenv(config.AdminTokenEnv), "Admin API token (or "+config.AdminTokenEnv+" env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newJobCmd(),
		newSecretCmd(),
	)

	return root
}
