package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier for runs, jobs, and dispatches.
func NewID() string {
	return uuid.New().String()
}

// Fingerprint returns a content-addressed digest over the given parts.
// The parts are length-delimited before hashing so that ("ab","c") and
// ("a","bc") produce distinct digests.
func Fingerprint(parts ...[]byte) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range parts {
		n := len(p)
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintStrings is Fingerprint over string parts.
func FingerprintStrings(parts ...string) string {
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		raw[i] = []byte(p)
	}
	return Fingerprint(raw...)
}

// Clock provides wall and monotonic time. Services take a Clock so tests can
// substitute a manual one; the monotonic reading drives TTL and lease math,
// the wall reading is what gets persisted.
type Clock interface {
	// Now returns the current wall-clock time. The returned Time carries
	// Go's monotonic reading, so Sub on two Now results is monotonic.
	Now() time.Time
	// Since returns the monotonic duration elapsed since t.
	Since(t time.Time) time.Duration
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// System is the shared production clock.
var System Clock = SystemClock{}
