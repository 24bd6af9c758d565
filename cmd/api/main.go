package main

import (
	"os"

	"beacon-chat/config"
	"beacon-chat/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon chat delivery and presence server",
	Long: `Beacon keeps users' live connections, delivers messages with
sent/delivered/read tracking, relays call signaling and manages the
per-user lifecycle of conversations.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and installs the global logger.
func bootstrap() (*config.Config, *logger.Logger) {
	cfg := config.LoadConfig()
	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	return cfg, l
}
