package kernelerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := New(SecurityViolation, "write access denied for %q", "../etc")
	require.True(t, errors.Is(err, SecurityViolation))
	require.False(t, errors.Is(err, NotFound))
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := Wrap(PersistError, inner, "push failed")
	require.True(t, errors.Is(err, PersistError))
	require.True(t, errors.Is(err, inner))
}

func TestOfKind(t *testing.T) {
	err := New(Timeout, "exceeded 5000ms")
	require.True(t, OfKind(err, Timeout))
	require.False(t, OfKind(err, MemoryLimit))
	require.False(t, OfKind(errors.New("plain"), Timeout))
}
