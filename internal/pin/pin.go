package pin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const Length = 6

var ErrInvalidFormat = errors.New("pin must be exactly 6 digits")
var ErrSpaceExhausted = errors.New("could not allocate an unused pin")

// Registry is the external uniqueness check. Reserve returns false when the
// pin is already held by a live session.
type Registry interface {
	Reserve(ctx context.Context, pin string) (bool, error)
	Release(ctx context.Context, pin string) error
}

// Generate draws a uniform random 6-digit code. Leading zeros are preserved,
// and codes are never derived from counters, so one pin tells you nothing
// about the next.
func Generate() (string, error) {
	code := make([]byte, Length)
	for i := 0; i < Length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = '0' + byte(num.Int64())
	}
	return string(code), nil
}

func ValidateFormat(s string) error {
	if len(s) != Length {
		return ErrInvalidFormat
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrInvalidFormat
		}
	}
	return nil
}

// Allocate generates pins until one reserves cleanly, up to maxAttempts.
// Exhausting the attempts fails this creation request only.
func Allocate(ctx context.Context, reg Registry, maxAttempts int) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		p, err := Generate()
		if err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}
		ok, err := reg.Reserve(ctx, p)
		if err != nil {
			return "", fmt.Errorf("reserve pin: %w", err)
		}
		if ok {
			return p, nil
		}
	}
	return "", ErrSpaceExhausted
}
