//go:build windows

package engine

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup only kills the installer itself; its children are left
// to the installer.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
