package contract

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolationf_ReturnsWrappedError(t *testing.T) {
	defer SetStrict(SetStrict(false))

	err := Violationf("pool.Release", "ref %d released twice", 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrViolation))
	assert.True(t, Is(fmt.Errorf("outer: %w", err)))

	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "pool.Release", v.Op)
	assert.Equal(t, "ref 7 released twice", v.Msg)
	assert.Contains(t, err.Error(), "contract violation")
}

func TestViolationf_StrictPanics(t *testing.T) {
	defer SetStrict(SetStrict(true))

	assert.PanicsWithError(t, "heap.Free: contract violation: bad ref", func() {
		_ = Violationf("heap.Free", "bad ref")
	})
}

func TestSetStrict_ReturnsPrevious(t *testing.T) {
	orig := SetStrict(true)
	defer SetStrict(orig)

	assert.True(t, Strict())
	assert.True(t, SetStrict(false))
	assert.False(t, Strict())
}
