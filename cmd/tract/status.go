package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/compile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current branch, HEAD, and compiled token total",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	compiled, err := t.Compile(ctx, compile.Options{})
	if err != nil {
		return err
	}

	status := map[string]interface{}{
		"tract_id":     t.ID(),
		"head":         compiled.HeadHash,
		"commit_count": compiled.CommitCount,
		"token_count":  compiled.TokenCount,
	}
	if jsonOutput {
		printJSON(status)
		return nil
	}
	fmt.Printf("tract:   %s\n", t.ID())
	fmt.Printf("head:    %s\n", compiled.HeadHash)
	fmt.Printf("commits: %d\n", compiled.CommitCount)
	fmt.Printf("tokens:  %d\n", compiled.TokenCount)
	return nil
}
