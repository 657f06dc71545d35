// Package errx provides the wrapping convention used across the repository:
// every returned error is anchored to one of the sentinel Err* values so
// callers can classify failures with errors.Is, while the message carries
// whatever caused it.
package errx

import "fmt"

// Wrap anchors cause to sentinel using %w so errors.Is(result, sentinel) holds.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, cause.Error())
}

// With anchors sentinel to a formatted message, in the same spirit as Wrap
// but for callers that have a format string instead of a pre-built error.
func With(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w"+format, append([]interface{}{sentinel}, args...)...)
}
