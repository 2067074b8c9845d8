package ident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestFingerprintLengthDelimited(t *testing.T) {
	assert.Equal(t, FingerprintStrings("ab", "c"), FingerprintStrings("ab", "c"))
	assert.NotEqual(t, FingerprintStrings("ab", "c"), FingerprintStrings("a", "bc"))
	assert.NotEqual(t, FingerprintStrings("x"), FingerprintStrings("x", ""))
	assert.Len(t, FingerprintStrings("x"), 64)
}

func TestSystemClockMonotonic(t *testing.T) {
	start := System.Now()
	assert.GreaterOrEqual(t, System.Since(start), time.Duration(0))
}
