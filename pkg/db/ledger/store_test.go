package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValues(t *testing.T) {
	existing := []string{"sh1", "sh2", "sh3"}
	candidates := []string{"sh2", "sh4", "sh5", "sh4"}

	got := NewValues(existing, candidates)
	require.Equal(t, []string{"sh4", "sh5"}, got)
}

func TestNewValuesIdempotent(t *testing.T) {
	existing := []string{"sh1", "sh2"}
	candidates := []string{"sh2", "sh3"}

	first := NewValues(existing, candidates)
	require.Equal(t, []string{"sh3"}, first)

	// After inserting the first result, a second pass finds nothing new.
	updated := append(existing, first...)
	require.Empty(t, NewValues(updated, candidates))
}

func TestNewValuesEmptyInputs(t *testing.T) {
	require.Empty(t, NewValues(nil, nil))
	require.Equal(t, []string{"sh1"}, NewValues(nil, []string{"sh1", "sh1"}))
	require.Empty(t, NewValues([]string{"sh1"}, nil))
}
