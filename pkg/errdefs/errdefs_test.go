package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndPredicates(t *testing.T) {
	err := New(KindNotFound, "job %q not found", "abc")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), `job "abc" not found`)
}

func TestWrapPreservesExistingKind(t *testing.T) {
	inner := New(KindTimeout, "lock wait expired")
	wrapped := Wrap(KindStorage, fmt.Errorf("acquire: %w", inner))
	assert.Equal(t, KindTimeout, KindOf(wrapped))

	assert.Nil(t, Wrap(KindStorage, nil))

	plain := Wrap(KindStorage, errors.New("disk full"))
	assert.True(t, IsStorage(plain))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("anonymous")))
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{New(KindUsage, "bad flag"), 2},
		{New(KindNotFound, "missing"), 3},
		{New(KindConflict, "version mismatch"), 4},
		{New(KindTimeout, "slow"), 5},
		{New(KindCapacity, "full"), 5},
		{New(KindStorage, "io"), 5},
		{New(KindCancelled, "stopped"), 5},
		{New(KindAgent, "handler"), 5},
		{errors.New("unclassified"), 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ExitCode(tc.err), "err=%v", tc.err)
	}
}
