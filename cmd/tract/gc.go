package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/gc"
)

var (
	gcOrphanRetentionDays  int
	gcArchiveRetentionDays int
	gcBranch               string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune unreachable commits and orphaned blobs",
	RunE:  runGC,
}

func init() {
	gcCmd.Flags().IntVar(&gcOrphanRetentionDays, "orphan-retention-days", 7, "age in days before an unreachable, non-archive commit is pruned")
	gcCmd.Flags().IntVar(&gcArchiveRetentionDays, "archive-retention-days", 0, "age in days before a retained compression-source commit is pruned (unset = never)")
	gcCmd.Flags().StringVar(&gcBranch, "branch", "", "scope reachability to one branch instead of all branches")
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	opts := gc.Options{
		OrphanRetentionDays: gcOrphanRetentionDays,
		Branch:              gcBranch,
	}
	if cmd.Flags().Changed("archive-retention-days") {
		days := gcArchiveRetentionDays
		opts.ArchiveRetentionDays = &days
	}

	result, err := t.GC(ctx, opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Printf("removed %d commit(s), %d blob(s), freed %d token(s) in %.3fs\n",
			result.CommitsRemoved, result.BlobsRemoved, result.TokensFreed, result.DurationSeconds)
	}
	return nil
}
