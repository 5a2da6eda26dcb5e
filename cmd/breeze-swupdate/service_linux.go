//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	linuxBinaryPath  = "/usr/local/bin/breeze-swupdate"
	linuxUnitDst     = "/etc/systemd/system/breeze-swupdate-finalize.service"
	linuxConfigDir   = "/etc/breeze"
	linuxStateDir    = "/var/lib/breeze/swupdate"
	linuxServiceName = "breeze-swupdate-finalize"
)

// Runs finalize once per boot so a pending update is verified without an
// operator.
const linuxUnit = `[Unit]
Description=Breeze software update finalize
Documentation=https://github.com/breeze-rmm/breeze
After=local-fs.target
ConditionPathExists=/var/lib/breeze/swupdate/swupdate-state.yaml

[Service]
Type=oneshot
ExecStart=/usr/local/bin/breeze-swupdate finalize
RemainAfterExit=yes

ProtectHome=read-only
PrivateTmp=true

StandardOutput=journal
StandardError=journal
SyslogIdentifier=breeze-swupdate

[Install]
WantedBy=multi-user.target
`

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the boot-time finalize unit (systemd)",
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the finalize unit and enable it at boot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root (sudo breeze-swupdate service install)")
		}

		for _, dir := range []string{linuxConfigDir, linuxStateDir} {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}

		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to determine executable path: %w", err)
		}
		exePath, err = filepath.EvalSymlinks(exePath)
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}

		if exePath != linuxBinaryPath {
			data, err := os.ReadFile(exePath)
			if err != nil {
				return fmt.Errorf("failed to read binary: %w", err)
			}
			if err := os.WriteFile(linuxBinaryPath, data, 0o755); err != nil {
				return fmt.Errorf("failed to copy binary to %s: %w", linuxBinaryPath, err)
			}
			fmt.Printf("Binary installed to %s\n", linuxBinaryPath)
		}

		if err := os.WriteFile(linuxUnitDst, []byte(linuxUnit), 0o644); err != nil {
			return fmt.Errorf("failed to write unit file: %w", err)
		}
		fmt.Printf("Systemd unit installed to %s\n", linuxUnitDst)

		if out, err := exec.Command("systemctl", "daemon-reload").CombinedOutput(); err != nil {
			return fmt.Errorf("failed to reload systemd: %s", strings.TrimSpace(string(out)))
		}
		if out, err := exec.Command("systemctl", "enable", linuxServiceName).CombinedOutput(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to enable unit: %s\n", strings.TrimSpace(string(out)))
		}

		fmt.Println()
		fmt.Println("Finalize unit installed and enabled. Pending updates are verified on every boot.")
		fmt.Println("Logs: journalctl -u " + linuxServiceName)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the finalize unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root (sudo breeze-swupdate service uninstall)")
		}

		exec.Command("systemctl", "disable", linuxServiceName).Run()
		os.Remove(linuxUnitDst)
		exec.Command("systemctl", "daemon-reload").Run()

		fmt.Println("Finalize unit removed.")
		fmt.Printf("State at %s was preserved.\n", linuxStateDir)
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the finalize unit status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(linuxUnitDst); os.IsNotExist(err) {
			fmt.Println("Finalize unit: not installed")
			return nil
		}

		// systemctl status exits non-zero for an inactive oneshot unit.
		out, _ := exec.Command("systemctl", "status", linuxServiceName, "--no-pager").CombinedOutput()
		fmt.Println(strings.TrimSpace(string(out)))
		return nil
	},
}
