package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mke-data/crash-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml with defaults",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.WriteDefault("config.yaml"); err != nil {
			return err
		}
		fmt.Println("Wrote config.yaml")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
