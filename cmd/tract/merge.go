package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/branch"
)

var mergeStrategy string

var mergeCmd = &cobra.Command{
	Use:   "merge <source-branch>",
	Short: "Merge a source branch into the current branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runMerge,
}

func init() {
	mergeCmd.Flags().StringVar(&mergeStrategy, "strategy", "three_way", "fast_forward, ours, theirs, three_way, or llm_semantic")
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := t.Merge(ctx, args[0], branch.Strategy(mergeStrategy))
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Printf("merged %s into current branch, new head %s\n", args[0], result.MergeCommit)
	}
	return nil
}

var rebaseRange []string

var rebaseCmd = &cobra.Command{
	Use:   "rebase <onto>",
	Short: "Replay the current branch's commits onto another commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runRebase,
}

func init() {
	rebaseCmd.Flags().StringSliceVar(&rebaseRange, "range", nil, "explicit ordered commit hashes to replay (default: auto-detect from merge-base)")
}

func runRebase(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := t.Rebase(ctx, args[0], rebaseRange)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Printf("rebased onto %s, new head %s\n", args[0], result.NewHead)
	}
	return nil
}
