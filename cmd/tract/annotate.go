package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/model"
)

var annotateReason string

var annotateCmd = &cobra.Command{
	Use:   "annotate <commit-hash> <PINNED|NORMAL|SKIP>",
	Short: "Set the priority annotation on a commit",
	Args:  cobra.ExactArgs(2),
	RunE:  runAnnotate,
}

func init() {
	annotateCmd.Flags().StringVar(&annotateReason, "reason", "", "optional reason recorded alongside the annotation")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	priority := model.Priority(args[1])
	if priority != model.PriorityPinned && priority != model.PriorityNormal && priority != model.PrioritySkip {
		return fmt.Errorf("priority must be PINNED, NORMAL, or SKIP, got %q", args[1])
	}

	if err := t.Annotate(ctx, args[0], priority, annotateReason); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]string{"status": "annotated", "commit": args[0], "priority": string(priority)})
	} else {
		fmt.Printf("annotated %s as %s\n", args[0], priority)
	}
	return nil
}
