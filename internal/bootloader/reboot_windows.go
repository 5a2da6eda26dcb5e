//go:build windows

package bootloader

const defaultRebootCommand = "shutdown /r /t 0"

// syncFilesystems is a no-op; Windows flushes volumes during shutdown.
func syncFilesystems() {}
