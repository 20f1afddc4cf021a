package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=x.y.z".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the rtcmux version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "rtcmux %s\n", version)
		return nil
	},
}
