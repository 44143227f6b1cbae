package assert

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestThat(t *testing.T) {
	require.NotPanics(t, func() { That(true, "never") })

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		require.True(t, errors.HasAssertionFailure(err))
		require.Contains(t, err.Error(), "size 12")
	}()
	That(false, "size %d", 12)
}

func TestUnreachable(t *testing.T) {
	require.Panics(t, func() { Unreachable("mode %d", 7) })
}
