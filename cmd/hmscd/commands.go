package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lazysuperheroes/hedera-multisig-sub001/config"
	"github.com/lazysuperheroes/hedera-multisig-sub001/core"
	"github.com/lazysuperheroes/hedera-multisig-sub001/logger"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const defaultHomeDirName = ".hmsc"

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
}

func homeFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("home", defaultHome(), "node home directory")
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHomeDirName
	}
	return filepath.Join(home, defaultHomeDirName)
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config into the node home",
	}
	home := homeFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefaultConfig()
		if err != nil {
			return err
		}
		cfg.NodeHome = *home
		if err := config.Save(cfg, *home); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", filepath.Join(*home, "config"))
		return nil
	}
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the coordination server",
	}
	home := homeFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*home)
		if err != nil {
			return fmt.Errorf("failed to load config (run `hmscd init` first): %w", err)
		}
		if cfg.NodeHome == "" {
			cfg.NodeHome = *home
		}

		log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		node, err := core.NewNode(cfg, log)
		if err != nil {
			return err
		}
		return node.Start(ctx)
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print hmscd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hmscd %s\n", Version)
		},
	}
}
