package tokencount_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/tokencount"
)

func TestAPISourceFormatsPromptPlusCompletion(t *testing.T) {
	require.Equal(t, "api:10+32", tokencount.APISource(10, 32))
	require.Equal(t, "api:0+0", tokencount.APISource(0, 0))
}

func TestNewTiktokenCounterCountsAndNamesItsEncoding(t *testing.T) {
	// Loading a real BPE rank table requires network access the first time
	// an encoding name is seen, so this is skipped under -short; without
	// -short it runs and fails if the asset cannot be fetched.
	if testing.Short() {
		t.Skip("requires network access to fetch the BPE rank table")
	}
	counter, err := tokencount.NewTiktokenCounter("cl100k_base")
	require.NoError(t, err)
	require.Equal(t, "cl100k_base", counter.EncodingName())
	require.Equal(t, "tiktoken:cl100k_base", counter.Source())

	n, err := counter.CountText("hello world")
	require.NoError(t, err)
	require.Greater(t, n, 0)

	empty, err := counter.CountText("")
	require.NoError(t, err)
	require.Equal(t, 0, empty)
}
