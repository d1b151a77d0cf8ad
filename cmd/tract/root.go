package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tractvcs/tract/internal/config"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/session"
	"github.com/tractvcs/tract/internal/store/sqlite"
	"github.com/tractvcs/tract/internal/tokencount"
)

// Exit codes (spec §6 CLI subset): 0 success, 2 validation/input error,
// 3 merge conflict, 4 budget exceeded (reject mode), 1 everything else.
const (
	ExitOK         = 0
	ExitOther      = 1
	ExitValidation = 2
	ExitConflict   = 3
	ExitBudget     = 4
)

var (
	tractDir   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "tract",
	Short: "Version-controlled, content-addressed context store for LLM conversations",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tractDir, "dir", "", "tract directory (default: walk up from cwd looking for .tract)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(rebaseCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(classifyExitCode(err), "%v", err)
	}
}

// classifyExitCode maps an error's sentinel to the CLI's exit-code
// contract (spec §6 "0 success, 2 validation/input error, 3 conflict
// (merge), 4 budget exceeded (reject mode), 1 other").
func classifyExitCode(err error) int {
	switch {
	case errors.Is(err, model.ErrBudgetExceeded):
		return ExitBudget
	case errors.Is(err, model.ErrMergeConflict):
		return ExitConflict
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrDetachedHead), errors.Is(err, model.ErrInvalidRange), errors.Is(err, model.ErrUnknownContentType):
		return ExitValidation
	default:
		return ExitOther
	}
}

// fatal writes an error message respecting --json (mirrors the teacher's
// FatalErrorRespectJSON) and exits with code.
func fatal(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{"error": msg}, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(ExitOther, "marshal output: %v", err)
	}
	fmt.Println(string(data))
}

// resolveTractDir finds the active .tract directory, walking up from cwd
// if --dir wasn't given (mirrors the teacher's FindUp-from-cwd convention).
func resolveTractDir() (string, error) {
	if tractDir != "" {
		return tractDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if dir := config.FindUp(cwd); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("no .tract directory found (run 'tract init' first, or pass --dir)")
}

// openHandle opens the tract at the resolved directory's configured
// storage path, wiring its token-budget policy and custom registry from
// config.yaml/registry.toml (spec §6 Tract.open). The tokenizer is always
// the cl100k_base encoding; config's tokenizer_model is not read here.
func openHandle(ctx context.Context) (*session.Tract, func() error, error) {
	dir, err := resolveTractDir()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	registry, err := config.LoadRegistry(dir)
	if err != nil {
		return nil, nil, err
	}

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = filepath.Join(dir, "tract.db")
	}
	st, err := sqlite.Open(ctx, storagePath)
	if err != nil {
		return nil, nil, err
	}

	counter, err := tokencount.NewTiktokenCounter("cl100k_base")
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	var budget *engine.TokenBudgetConfig
	if cfg.Budget.MaxTokens > 0 {
		budget = &engine.TokenBudgetConfig{
			MaxTokens: cfg.Budget.MaxTokens,
			Mode:      engine.BudgetMode(cfg.Budget.Mode),
		}
	}

	tractID := cfg.TractID
	if tractID == "" {
		tractID = "default"
	}

	var llm llmclient.Client // CLI runs without a live LLM unless a key is configured elsewhere
	t := session.FromComponents(session.Components{
		Store:    st,
		TractID:  tractID,
		Registry: registry,
		Counter:  counter,
		Budget:   budget,
		LLM:      llm,
	})
	return t, st.Close, nil
}

