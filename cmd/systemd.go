package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var systemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Print a user systemd unit for the bridge",
	Long: `Print a systemd user unit that keeps the bridge running.

Install it with:
  takopi systemd > ~/.config/systemd/user/takopi.service
  systemctl --user enable --now takopi`,
	RunE: printSystemdUnit,
}

func init() {
	rootCmd.AddCommand(systemdCmd)
}

func printSystemdUnit(cmd *cobra.Command, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	execStart := exe + " run"
	if configPath != "" {
		execStart += " --config " + configPath
	}

	fmt.Fprintf(cmd.OutOrStdout(), `[Unit]
Description=takopi - Telegram bridge to local coding agents
After=network-online.target

[Service]
ExecStart=%s
Restart=on-failure
RestartSec=5
Environment=HOME=%s
Environment=PATH=%s
Environment=TAKOPI_NO_INTERACTIVE=1

[Install]
WantedBy=default.target
`, execStart, home, os.Getenv("PATH"))
	return nil
}
