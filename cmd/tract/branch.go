package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var branchFrom string

var branchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "List branches, or create a new one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBranch,
}

func init() {
	branchCmd.Flags().StringVar(&branchFrom, "from", "", "commit hash to branch from (default: current HEAD)")
}

func runBranch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(args) == 0 {
		names, err := t.ListBranches(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(names)
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	if err := t.Branch(ctx, args[0], branchFrom); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]string{"status": "created", "branch": args[0]})
	} else {
		fmt.Printf("created branch %s\n", args[0])
	}
	return nil
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <branch-or-commit>",
	Short: "Switch HEAD to a branch (or a commit, for detached HEAD)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckout,
}

func runCheckout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := t.Checkout(ctx, args[0]); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]string{"status": "checked_out", "target": args[0]})
	} else {
		fmt.Printf("switched to %s\n", args[0])
	}
	return nil
}
