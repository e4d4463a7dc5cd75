package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vitwit/web3checkout/config"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:          "web3checkout",
	Short:        "Crypto checkout for the shop",
	Long:         `web3checkout serves the order proxy, prints price quotes and runs headless payments with a local key.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		log = logger.NewZapLogger(cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if z, ok := log.(*logger.ZapLogger); ok {
			_ = z.Sync()
		}
	},
}

// Execute runs the root command. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, quoteCmd, payCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func recorder() (metrics.Recorder, *metrics.PrometheusRecorder) {
	if !cfg.EnableMetrics {
		return metrics.NoopRecorder{}, nil
	}
	p := metrics.NewPrometheusRecorder(nil)
	return p, p
}
