//go:build !linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serviceCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the boot-time finalize unit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Boot-time finalize is only packaged as a systemd unit. Run 'breeze-swupdate finalize' from your init system after boot.")
	},
}
