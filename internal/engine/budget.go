package engine

import "context"

// BudgetMode selects what happens when a commit would push the compiled
// token total over TokenBudgetConfig.MaxTokens (spec §4.E step 6).
type BudgetMode string

const (
	BudgetWarn     BudgetMode = "warn"
	BudgetReject   BudgetMode = "reject"
	BudgetCallback BudgetMode = "callback"
)

// TokenBudgetConfig configures the commit engine's post-commit budget
// policy (spec §6).
type TokenBudgetConfig struct {
	MaxTokens int
	Mode      BudgetMode
	// Callback is invoked (if Mode == BudgetCallback) with the post-commit
	// compiled token total. A non-nil return value rolls the commit back
	// exactly as BudgetReject would.
	Callback func(ctx context.Context, tokenTotal int) error
}

// Enabled reports whether a budget policy is configured at all.
func (c *TokenBudgetConfig) Enabled() bool {
	return c != nil && c.MaxTokens > 0
}
