package rc

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a mapping or layout that cannot be applied.
	ErrConfiguration = errors.New("invalid channel configuration")

	// ErrInvalidChannel reports a channel index outside [0, N).
	ErrInvalidChannel = errors.New("invalid channel index")
)

// ConfigurationError describes a mapping whose arity does not match its
// category.
type ConfigurationError struct {
	Category Category
	Want     int
	Got      int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s mapping needs %d values, got %d", e.Category, e.Want, e.Got)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func channelError(ch, n int) error {
	return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChannel, ch, n)
}
