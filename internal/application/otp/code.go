package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
)

// codeSpace is the number of distinct 4-digit codes (0000-9999).
var codeSpace = big.NewInt(10000)

// generateCode draws a code uniformly from 0000-9999, keeping leading zeros.
func generateCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// HashCode returns the hex SHA-256 digest stored in place of the plaintext code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// MatchCode compares a candidate against a stored digest in constant time.
func MatchCode(candidate, codeHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(candidate)), []byte(codeHash)) == 1
}
