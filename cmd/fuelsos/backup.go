package main

import (
	"fmt"

	"FuelSOS/internal/app"
	"FuelSOS/pkg/config"

	"github.com/spf13/cobra"
)

var backupDir string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a one-off database backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path, err := app.Backup(cmd.Context(), cfg, backupDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "backup written to", path)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "target directory, overrides BACKUP_PATH")
	rootCmd.AddCommand(backupCmd)
}
