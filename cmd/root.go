package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/takopi/takopi/internal/config"
)

var (
	configPath string
	debugRaw   bool
)

var rootCmd = &cobra.Command{
	Use:   "takopi",
	Short: "Bridge Telegram chats to local coding agents",
	Long: `takopi connects a Telegram bot to the coding-agent CLIs installed on
this machine (codex, claude, opencode, cursor, pi). Send a prompt from your
phone; takopi runs the agent in your workspace, streams progress into the
chat, and keeps per-topic sessions resumable.

Examples:
  takopi run                       # start the bridge
  takopi run --config ./dev.toml   # with an alternate config
  takopi systemd                   # print a user service unit`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/takopi/takopi.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugRaw, "debug-raw", false, "Log every raw engine line to stderr")
}

// resolveConfigPath applies the --config flag over the default location.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
