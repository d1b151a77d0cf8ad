package llmclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestIsRetryableNilIsFalse(t *testing.T) {
	require.False(t, isRetryable(nil))
}

func TestIsRetryableContextErrorsAreTerminal(t *testing.T) {
	require.False(t, isRetryable(context.Canceled))
	require.False(t, isRetryable(context.DeadlineExceeded))
}

func TestIsRetryableNetworkTimeoutRetries(t *testing.T) {
	require.True(t, isRetryable(fakeTimeoutErr{}))
}

func TestIsRetryableAnthropicStatusCodes(t *testing.T) {
	require.True(t, isRetryable(&anthropic.Error{StatusCode: 429}))
	require.True(t, isRetryable(&anthropic.Error{StatusCode: 500}))
	require.True(t, isRetryable(&anthropic.Error{StatusCode: 503}))
	require.False(t, isRetryable(&anthropic.Error{StatusCode: 400}))
}

func TestIsRetryableUnrecognizedErrorIsTerminal(t *testing.T) {
	require.False(t, isRetryable(errors.New("boom")))
}

func TestNewAnthropicClientRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicClient("")
	require.ErrorIs(t, err, errAPIKeyRequired)
}

func TestNewAnthropicClientEnvKeyTakesPrecedence(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	client, err := NewAnthropicClient("explicit-key")
	require.NoError(t, err)
	require.NotNil(t, client)
}
