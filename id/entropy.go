package id

import (
	"crypto/rand"
	"io"
)

// ulidEntropySource returns the randomness source backing every Generator's
// monotonic counter. Factored out so tests can substitute a deterministic
// reader without touching Generator's public surface.
func ulidEntropySource() io.Reader {
	return rand.Reader
}
