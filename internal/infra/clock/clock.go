// Package clock provides the engine's C8 Clock/IDs leaf: a monotonic time
// source, ID minting, and session-id caching.
package clock

import (
	"crypto/rand"
	"math/big"
	"os"
	"sync"
	"time"

	"hindsight/internal/domain"
)

// SystemClock is the production domain.Clock backed by the host wall clock.
type SystemClock struct{}

var _ domain.Clock = SystemClock{}

func (SystemClock) NowUTC() time.Time     { return time.Now().UTC() }
func (SystemClock) TodayLocalYMD() string { return time.Now().Format("2006-01-02") }
func (SystemClock) TimeHHMM() string      { return time.Now().Format("15:04") }

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// MintID mints an opaque short ID encoded as base36 of length 6-10 (§4.8).
// The length is entropyBits/5 rounded up and clamped to 6-10 digits, so any
// request above 50 bits yields 10 digits (about 51.7 bits of entropy); a
// non-positive entropyBits selects 48.
func MintID(entropyBits int) (string, error) {
	if entropyBits <= 0 {
		entropyBits = 48
	}
	// Each base36 digit carries log2(36) ~= 5.17 bits; round up digit count.
	digits := entropyBits / 5
	if entropyBits%5 != 0 {
		digits++
	}
	if digits < 6 {
		digits = 6
	}
	if digits > 10 {
		digits = 10
	}

	out := make([]byte, digits)
	max := big.NewInt(36)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = base36Alphabet[n.Int64()]
	}
	return string(out), nil
}

// MintEntryID mints an §3.1 entry ID by requesting 72 bits from MintID. The
// 10-digit cap applies, so the ID is 10 base36 characters carrying about
// 51.7 bits of entropy, not 72.
func MintEntryID() (string, error) {
	return MintID(72)
}

var (
	sessionIDOnce sync.Once
	sessionID     string
)

// SessionID returns the process-local session id, seeded from the
// HINDSIGHT_SESSION_ID environment variable if present, else a CSPRNG value,
// and cached for the lifetime of the process (§4.8).
func SessionID() string {
	sessionIDOnce.Do(func() {
		if v := os.Getenv("HINDSIGHT_SESSION_ID"); v != "" {
			sessionID = v
			return
		}
		id, err := MintID(64)
		if err != nil {
			id = "unseeded"
		}
		sessionID = id
	})
	return sessionID
}
