// Package tokencount provides the token-counting contract the compiler and
// commit engine use to size compiled context (spec §4.D). The concrete
// counting algorithm is swappable; authoritative post-call usage from an
// LLM response overwrites a commit's locally-counted value (spec §6).
package tokencount

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens of text under a named encoding.
type Counter interface {
	CountText(text string) (int, error)
	EncodingName() string
}

// TiktokenCounter is the default Counter, backed by a byte-pair-encoding
// tokenizer (spec §4.D "a byte-pair encoding library").
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

var bpeCache sync.Map // encoding name -> *tiktoken.Tiktoken

// NewTiktokenCounter builds a Counter for the named encoding (e.g.
// "o200k_base", "cl100k_base"). Encodings are loaded once per process and
// cached, since construction parses a multi-megabyte BPE rank table.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if cached, ok := bpeCache.Load(encoding); ok {
		return &TiktokenCounter{encoding: encoding, enc: cached.(*tiktoken.Tiktoken)}, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokencount: load encoding %q: %w", encoding, err)
	}
	bpeCache.Store(encoding, enc)
	return &TiktokenCounter{encoding: encoding, enc: enc}, nil
}

// CountText returns the number of tokens text encodes to.
func (c *TiktokenCounter) CountText(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := c.enc.Encode(text, nil, nil)
	return len(tokens), nil
}

// EncodingName returns the bare configured encoding, e.g. "o200k_base";
// Source() below supplies the "tiktoken:"-prefixed form recorded on a
// commit's token_source field.
func (c *TiktokenCounter) EncodingName() string { return c.encoding }

// Source returns the token_source tag recorded when this counter produced
// a commit's token_count (spec §3 Commit.token_source convention).
func (c *TiktokenCounter) Source() string { return "tiktoken:" + c.encoding }

// APISource renders the token_source tag for an authoritative usage
// extractor result (spec §6): "api:<prompt>+<completion>".
func APISource(promptTokens, completionTokens int) string {
	return fmt.Sprintf("api:%d+%d", promptTokens, completionTokens)
}

const apiSourcePrefix = "api:"

// IsAPISource reports whether source names an authoritative, API-reported
// usage figure rather than a local tokenizer estimate (spec §4.D "the API
// usage count... is authoritative when present").
func IsAPISource(source string) bool {
	return strings.HasPrefix(source, apiSourcePrefix)
}
