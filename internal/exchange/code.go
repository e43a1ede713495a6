// Package exchange generates and verifies the one-time handoff codes that gate
// the final received/completed transition of orders and samples.
package exchange

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	OrderCodeLength  = 8
	SampleCodeLength = 6

	// MaxAttempts bounds collision retries when persisting a new code.
	MaxAttempts = 5

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrExhausted is returned when every attempt collided with an existing code.
var ErrExhausted = errors.New("exchange code generation exhausted retries")

// Generate returns a random uppercase alphanumeric code of the given length.
func Generate(length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Verify compares a presented code with the stored one. Case and surrounding
// whitespace of the presented code are ignored. An empty stored code never matches.
func Verify(stored, presented string) bool {
	if stored == "" {
		return false
	}
	presented = strings.ToUpper(strings.TrimSpace(presented))
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// Valid reports whether code has the expected shape.
func Valid(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(alphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// Retry runs attempt until it succeeds, fails with an error that is not a
// collision, or MaxAttempts is reached. Each attempt is expected to generate
// fresh codes.
func Retry(isCollision func(error) bool, attempt func() error) error {
	for i := 0; i < MaxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !isCollision(err) {
			return err
		}
	}
	return ErrExhausted
}
