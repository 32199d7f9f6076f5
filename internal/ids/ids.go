// Package ids generates identifiers in the same shape Things itself uses:
// a base58 (no 0/O/I/l) encoding of a UUID, grounded on the teacher's
// cmd/things-cli generateUUID helper.
package ids

import (
	"math/big"

	"github.com/google/uuid"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// New returns a fresh Things-shaped identifier.
func New() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	base := big.NewInt(58)
	mod := new(big.Int)
	var encoded []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		encoded = append(encoded, base58Alphabet[mod.Int64()])
	}
	for i, j := 0, len(encoded)-1; i < j; i, j = i+1, j-1 {
		encoded[i], encoded[j] = encoded[j], encoded[i]
	}
	if len(encoded) == 0 {
		return "0"
	}
	return string(encoded)
}

// Placeholder returns a recognizable placeholder id for writes that went
// through the URL scheme, which is fire-and-forget and never returns the
// created entity's real id (spec.md §4.4).
func Placeholder() string {
	return "pending:" + New()
}
