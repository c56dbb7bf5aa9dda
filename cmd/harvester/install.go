package main

import (
	"github.com/maltedev/cosmetics-harvester/internal/browser"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install-browser",
	Short: "Download the playwright driver and Chromium",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return browser.Install()
	},
}
