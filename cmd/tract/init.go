package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/config"
)

var (
	initTractID   string
	initMaxTokens int
	initBudgetMode string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .tract directory with default configuration",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVar(&initTractID, "tract-id", "", "tract identifier to bind this directory to (default: generated)")
	initCmd.Flags().IntVar(&initMaxTokens, "max-tokens", 0, "token budget limit (0 disables the budget policy)")
	initCmd.Flags().StringVar(&initBudgetMode, "budget-mode", "warn", "budget mode: warn, reject, or callback")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := tractDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = filepath.Join(cwd, ".tract")
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return fmt.Errorf("%s already exists", dir)
	}

	cfg := config.DefaultConfig()
	cfg.TractID = initTractID
	cfg.Budget = config.TokenBudgetConfig{
		MaxTokens: initMaxTokens,
		Mode:      config.BudgetMode(initBudgetMode),
	}
	if err := config.Save(dir, cfg); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]string{"status": "initialized", "dir": dir})
	} else {
		fmt.Printf("Initialized tract in %s\n", dir)
	}
	return nil
}
