package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// processKeySize is the number of bytes of random key material generated
// once per process.
const processKeySize = 128

// NonceSource derives unpredictable, per-process-unique identifiers by
// HMAC-SHA-256'ing a monotonically increasing counter under a random key.
// It is used both for pending-dialogue ids and for CSRF tokens.
type NonceSource struct {
	key     [processKeySize]byte
	counter atomic.Uint64
}

// NewNonceSource creates a NonceSource with a freshly generated ProcessKey.
// If the random source fails the process must not start, so
// this returns an error rather than silently falling back to a weak source.
func NewNonceSource() (*NonceSource, error) {
	var key [processKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("authcore: failed to read process key: %w", err)
	}
	return &NonceSource{key: key}, nil
}

// Next returns the next nonce: lowercase hex of HMAC-SHA-256(key, counter),
// where counter is the little-endian encoding of a post-increment 64-bit
// value. Two calls never return the same value within a process lifetime.
func (n *NonceSource) Next() string {
	c := n.counter.Add(1)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], c)

	mac := hmac.New(sha256.New, n.key[:])
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil))
}
