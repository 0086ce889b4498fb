package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a token fails authentication or claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidToken, reason)
}
