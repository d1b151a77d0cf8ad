// Package model defines the content-addressed data model shared by every
// subsystem: content payloads, commits, blobs, refs, annotations, and the
// provenance records for operations and compile calls.
package model

import (
	"errors"
	"fmt"
)

// Sentinel errors. Engines wrap these with op/identifier context via Wrap;
// callers match them with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrUnknownContentType = errors.New("unknown content type")
	ErrNotFound           = errors.New("not found")
	ErrBudgetExceeded     = errors.New("token budget exceeded")
	ErrMergeConflict      = errors.New("merge conflict")
	ErrDetachedHead       = errors.New("detached HEAD")
	ErrInvalidRange       = errors.New("invalid range")
	ErrLLMConfig          = errors.New("LLM call requires a configured client")
)

// Kind classifies a TraceError by which sentinel it wraps, so callers that
// only have a *TraceError (e.g. across an RPC boundary) can still branch.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnknownContentType Kind = "unknown_content_type"
	KindNotFound           Kind = "not_found"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindMergeConflict      Kind = "merge_conflict"
	KindDetachedHead       Kind = "detached_head"
	KindInvalidRange       Kind = "invalid_range"
	KindLLMConfig          Kind = "llm_config"
	KindOther              Kind = "other"
)

var sentinelKinds = map[error]Kind{
	ErrValidation:         KindValidation,
	ErrUnknownContentType: KindUnknownContentType,
	ErrNotFound:           KindNotFound,
	ErrBudgetExceeded:     KindBudgetExceeded,
	ErrMergeConflict:      KindMergeConflict,
	ErrDetachedHead:       KindDetachedHead,
	ErrInvalidRange:       KindInvalidRange,
	ErrLLMConfig:          KindLLMConfig,
}

// TraceError is the root error type of the system (spec §7): a kind, a
// human-readable message naming the offending identifier, and an unwrap-able
// cause.
type TraceError struct {
	Kind  Kind
	Op    string
	Ident string
	Cause error
}

func (e *TraceError) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s: %s %q: %v", e.Op, e.Kind, e.Ident, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *TraceError) Unwrap() error { return e.Cause }

// Wrap builds a *TraceError from a sentinel (or arbitrary) cause, recording
// the operation name and the offending identifier for a human-readable
// message. If cause is nil, Wrap returns nil.
func Wrap(op, ident string, cause error) error {
	if cause == nil {
		return nil
	}
	kind := KindOther
	for sentinel, k := range sentinelKinds {
		if errors.Is(cause, sentinel) {
			kind = k
			break
		}
	}
	return &TraceError{Kind: kind, Op: op, Ident: ident, Cause: cause}
}

// MergeConflictItem describes one conflicting item surfaced by a three-way
// merge (spec §4.G).
type MergeConflictItem struct {
	Kind        string // "edit_target" or "reply_to"
	LeftHash    string
	RightHash   string
	Description string
}

// MergeConflictError is the structured form of ErrMergeConflict.
type MergeConflictError struct {
	Items []MergeConflictItem
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict: %d item(s)", len(e.Items))
}

func (e *MergeConflictError) Unwrap() error { return ErrMergeConflict }
