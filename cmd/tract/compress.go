package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/compress"
)

var (
	compressRangeStart   string
	compressRangeEnd     string
	compressTargetTokens int
	compressAutonomy     string
	compressContent      string
	compressInstructions string
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Summarize a commit range, preserving PINNED commits verbatim",
	RunE:  runCompress,
}

func init() {
	compressCmd.Flags().StringVar(&compressRangeStart, "from", "", "range start commit hash")
	compressCmd.Flags().StringVar(&compressRangeEnd, "to", "", "range end commit hash (default: HEAD)")
	compressCmd.Flags().IntVar(&compressTargetTokens, "target-tokens", 0, "target token count per summary group")
	compressCmd.Flags().StringVar(&compressAutonomy, "autonomy", "autonomous", "autonomous, collaborative, or manual")
	compressCmd.Flags().StringVar(&compressContent, "content", "", "summary text (required for --autonomy manual)")
	compressCmd.Flags().StringVar(&compressInstructions, "instructions", "", "extra instructions passed to the summarizing LLM")
}

func runCompress(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	opts := compress.Options{
		RangeStart:   compressRangeStart,
		RangeEnd:     compressRangeEnd,
		TargetTokens: compressTargetTokens,
		Autonomy:     compress.Autonomy(compressAutonomy),
		Content:      compressContent,
		Instructions: compressInstructions,
	}

	if opts.Autonomy == compress.AutonomyCollaborative {
		pending, err := t.PlanCompression(ctx, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(pending)
		} else {
			fmt.Printf("compression plan ready for review: %d segment(s)\n", len(pending.Drafts))
		}
		return nil
	}

	result, err := t.Compress(ctx, opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Printf("compressed %d commit(s) into %d, new head %s\n",
			len(result.SourceHashes), len(result.ResultHashes), result.NewHead)
	}
	return nil
}
