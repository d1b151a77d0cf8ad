package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/model"
)

var (
	commitType    string
	commitText    string
	commitRole    string
	commitMessage string
	commitEdit    string
	commitReply   string
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Append (or edit) a commit on the current branch",
	RunE:  runCommit,
}

func init() {
	commitCmd.Flags().StringVar(&commitType, "type", "dialogue", "content type: instruction, dialogue, reasoning, output, freeform, tool_io")
	commitCmd.Flags().StringVar(&commitText, "text", "", "payload text")
	commitCmd.Flags().StringVar(&commitRole, "role", "user", "role for dialogue commits: user or assistant")
	commitCmd.Flags().StringVar(&commitMessage, "message", "", "commit message (default: synthesized from the payload)")
	commitCmd.Flags().StringVar(&commitEdit, "edit", "", "commit hash this commit edits, instead of appending")
	commitCmd.Flags().StringVar(&commitReply, "reply-to", "", "commit hash this commit replies to")
	_ = commitCmd.MarkFlagRequired("text")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	t, closeFn, err := openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	payload, err := buildPayload(commitType, commitText, commitRole)
	if err != nil {
		return err
	}

	in := engine.CreateInput{
		Payload:    payload,
		Operation:  model.OpAppend,
		ReplyTo:    commitReply,
		EditTarget: commitEdit,
	}
	if commitEdit != "" {
		in.Operation = model.OpEdit
	}
	if commitMessage != "" {
		in.Message = &commitMessage
	}

	c, err := t.Commit(ctx, in)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(c)
	} else {
		fmt.Printf("%s\n", c.CommitHash)
	}
	return nil
}

func buildPayload(kind, text, role string) (model.Payload, error) {
	switch model.ContentType(kind) {
	case model.TypeInstruction:
		return model.Instruction{Text: text}, nil
	case model.TypeDialogue:
		r := model.Role(role)
		if r != model.RoleUser && r != model.RoleAssistant {
			return nil, fmt.Errorf("--role must be user or assistant, got %q", role)
		}
		return model.Dialogue{Text: text, Role: r}, nil
	case model.TypeReasoning:
		return model.Reasoning{Text: text}, nil
	case model.TypeOutput:
		return model.Output{Text: text}, nil
	case model.TypeFreeform:
		return model.Freeform{Fields: map[string]interface{}{"text": text}}, nil
	case model.TypeToolIO:
		return model.ToolIO{ToolName: "cli", Call: map[string]interface{}{"text": text}}, nil
	default:
		return nil, fmt.Errorf("unsupported --type %q", kind)
	}
}
