package utils

// errors.go – a general-purpose context-wrapping helper, reused by
// pkg/config. core/errors.go's own `wrap` helper is kept private to that
// package deliberately (core's typed errors need to stay core-internal);
// this one is the general-purpose version for the rest of the module.

import "fmt"

// Wrap adds context to err using the standard "%s: %w" convention.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
