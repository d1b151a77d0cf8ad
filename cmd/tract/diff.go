package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/compile"
)

var diffCmd = &cobra.Command{
	Use:   "diff <from-commit> <to-commit>",
	Short: "Show the commits and tokens that differ between two compiled points",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	from, err := t.Compile(ctx, compile.Options{UpTo: args[0]})
	if err != nil {
		return err
	}
	to, err := t.Compile(ctx, compile.Options{UpTo: args[1]})
	if err != nil {
		return err
	}

	fromSet := make(map[string]bool, len(from.EffectiveCommitHashes))
	for _, h := range from.EffectiveCommitHashes {
		fromSet[h] = true
	}
	toSet := make(map[string]bool, len(to.EffectiveCommitHashes))
	for _, h := range to.EffectiveCommitHashes {
		toSet[h] = true
	}

	var added, removed []string
	for _, h := range to.EffectiveCommitHashes {
		if !fromSet[h] {
			added = append(added, h)
		}
	}
	for _, h := range from.EffectiveCommitHashes {
		if !toSet[h] {
			removed = append(removed, h)
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"added":            added,
			"removed":          removed,
			"token_delta":      to.TokenCount - from.TokenCount,
		})
		return nil
	}
	for _, h := range added {
		fmt.Printf("+ %s\n", h)
	}
	for _, h := range removed {
		fmt.Printf("- %s\n", h)
	}
	fmt.Printf("token delta: %+d\n", to.TokenCount-from.TokenCount)
	return nil
}
