package derive

import "errors"

// ErrUnknownBase is returned when a derivation is requested for a base
// name absent from the Master's index.
var ErrUnknownBase = errors.New("derive: unknown base")

// ErrDerivationMismatch is returned when the handle produced by walking a
// Name's operation chain does not match what that Name specifies.
var ErrDerivationMismatch = errors.New("derive: derivation mismatch")
