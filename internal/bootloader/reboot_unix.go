//go:build !windows

package bootloader

import "golang.org/x/sys/unix"

const defaultRebootCommand = "systemctl reboot"

func syncFilesystems() {
	unix.Sync()
}
