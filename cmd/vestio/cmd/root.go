package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var (
	apiURL    string
	dataDir   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "vestio",
	Short: "vestio signs you in to the Vestio lending marketplace",
	Long: `Command-line client for the Vestio authority: sign in with email, password
and one-time codes, manage your password and second factor, or run a local
authority for development.`,
	Version:      Version,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "authority base URL (overrides VESTIO_API_URL)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for session data (overrides VESTIO_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format, json or text (overrides VESTIO_LOG_FORMAT)")
}
