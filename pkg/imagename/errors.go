package imagename

import "errors"

// ErrMalformedName is returned by Parse when the input cannot be split into
// a base, an operation chain, and a format suffix, or when an operation name
// is not one of the known derivation operations. Unlike the original this
// repository is modeled on, an unknown operation name always fails parsing
// rather than being silently printed and dropped.
var ErrMalformedName = errors.New("imagename: malformed name")
