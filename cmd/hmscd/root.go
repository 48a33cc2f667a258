package main

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hmscd",
		Short: "Hedera multi-signature coordination server",
	}

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
