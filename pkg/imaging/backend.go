// Package imaging defines the pixel back end contract used by the
// derivation engine and the artifact handle, plus a default adapter over
// github.com/disintegration/imaging. The cache core never decodes or
// transforms pixels itself; it calls through Backend so the actual image
// algorithms stay swappable and out of scope (spec §6: "Image back end").
//
// Grounded on other_examples/820dae43_ellingwood-forge's Processor, which
// wraps the same library for resize/encode; generalized here into an
// interface so the Derivation Engine and Handle don't depend on a concrete
// library.
package imaging

import "errors"

// ErrUnsupported is returned by optional Backend capabilities (currently
// only LiquidRescale) that an adapter does not implement. Callers fall back
// to a plain resize, per spec §4.2.
var ErrUnsupported = errors.New("imaging: operation not supported by backend")

// Metadata is a flat key/value view of an image's embedded metadata
// (EXIF, IPTC, ...), produced by ExtractMetadata.
type Metadata map[string]string

// Image is a decoded, in-memory image plus the format it was decoded
// from. Backend implementations decide its concrete representation;
// callers only pass it back into other Backend methods.
type Image interface {
	// Width and Height report the pixel dimensions.
	Width() int
	Height() int
}

// Backend decodes, transforms, and encodes image bytes. Every transform
// returns a new Image; none mutate their receiver, mirroring Handle's
// own clone-before-mutate discipline.
type Backend interface {
	Decode(data []byte) (Image, error)
	Encode(img Image, format string) ([]byte, error)
	Clone(img Image) Image
	StripMetadata(img Image) Image
	Crop(img Image, w, h, x, y int) (Image, error)
	Resize(img Image, w, h int) (Image, error)
	// LiquidRescale performs content-aware (seam-carving) rescale. It
	// returns ErrUnsupported if the backend has no such algorithm; callers
	// must fall back to Resize.
	LiquidRescale(img Image, w, h int) (Image, error)
	Equalize(img Image) (Image, error)
	UnsharpMask(img Image) (Image, error)
	ExtractMetadata(img Image) (Metadata, error)
}
