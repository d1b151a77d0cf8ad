package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/compile"
)

var compileUpTo string

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the current HEAD into a bounded, ordered message sequence",
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileUpTo, "up-to", "", "stop at this commit hash instead of HEAD")
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := t.Compile(ctx, compile.Options{UpTo: compileUpTo})
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}
	for _, m := range result.Messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Text)
	}
	fmt.Printf("\n%d messages, %d tokens, head %s\n", len(result.Messages), result.TokenCount, result.HeadHash)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s (%s): %s\n", w.Kind, w.CommitHash, w.Description)
	}
	return nil
}
