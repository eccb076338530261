// Package sha256 provides SHA-256 checksums for uploaded content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest accumulates written bytes and reports their hex SHA-256 sum. It is
// meant to sit behind an io.TeeReader while an upload streams through the parser.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer; it never fails.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Hex returns the hex digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Len reports how many bytes were written.
func (d *Digest) Len() int64 {
	return d.n
}

// Sum hashes data in one call.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
