package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List commits on the current branch",
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "max commits to show (0 = unlimited)")
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	commits, err := t.Log(ctx, logLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(commits)
		return nil
	}
	for _, c := range commits {
		fmt.Printf("%s  %-10s  %s\n", c.CommitHash[:12], c.ContentType, c.Message)
	}
	return nil
}
