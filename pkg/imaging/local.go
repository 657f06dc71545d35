package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strconv"

	libimaging "github.com/disintegration/imaging"
)

// nativeImage is the Backend.Image implementation backing LocalBackend. It
// keeps the decoded pixels plus the format it was last encoded/decoded as,
// so Encode can pick sane defaults when the caller doesn't override.
type nativeImage struct {
	img    image.Image
	format string
}

func (n *nativeImage) Width() int  { return n.img.Bounds().Dx() }
func (n *nativeImage) Height() int { return n.img.Bounds().Dy() }

func asNative(img Image) (*nativeImage, error) {
	n, ok := img.(*nativeImage)
	if !ok {
		return nil, fmt.Errorf("imaging: image %T not produced by LocalBackend", img)
	}
	return n, nil
}

// LocalBackend decodes and transforms images in-process using
// github.com/disintegration/imaging for the geometric operations and the
// standard library's image/jpeg and image/png for encode/decode of the two
// formats it natively understands.
type LocalBackend struct{}

// NewLocalBackend constructs the default in-process pixel backend.
func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

func (b *LocalBackend) Decode(data []byte) (Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}
	return &nativeImage{img: img, format: format}, nil
}

func (b *LocalBackend) Encode(img Image, format string) ([]byte, error) {
	n, err := asNative(img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, n.img); err != nil {
			return nil, fmt.Errorf("imaging: encode png: %w", err)
		}
	case "jpg", "jpeg", "":
		if err := jpeg.Encode(&buf, n.img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("imaging: encode: unsupported format %q", format)
	}
	return buf.Bytes(), nil
}

func (b *LocalBackend) Clone(img Image) Image {
	n, err := asNative(img)
	if err != nil {
		return img
	}
	return &nativeImage{img: libimaging.Clone(n.img), format: n.format}
}

func (b *LocalBackend) StripMetadata(img Image) Image {
	// Decoding through image.Decode already discards EXIF/IPTC blocks that
	// image/jpeg and image/png don't model; re-encoding never reintroduces
	// them, so the clone is returned unchanged.
	return b.Clone(img)
}

func (b *LocalBackend) Crop(img Image, w, h, x, y int) (Image, error) {
	n, err := asNative(img)
	if err != nil {
		return nil, err
	}
	rect := image.Rect(x, y, x+w, y+h)
	cropped := libimaging.Crop(n.img, rect)
	return &nativeImage{img: cropped, format: n.format}, nil
}

func (b *LocalBackend) Resize(img Image, w, h int) (Image, error) {
	n, err := asNative(img)
	if err != nil {
		return nil, err
	}
	resized := libimaging.Resize(n.img, w, h, libimaging.Lanczos)
	return &nativeImage{img: resized, format: n.format}, nil
}

// LiquidRescale is not implemented by LocalBackend; disintegration/imaging
// has no seam-carving algorithm. Callers fall back to Resize.
func (b *LocalBackend) LiquidRescale(img Image, w, h int) (Image, error) {
	return nil, ErrUnsupported
}

// Equalize returns an unaltered copy of img: AdjustContrast by 0 percent
// leaves the pixels unchanged, and no histogram equalisation is applied.
func (b *LocalBackend) Equalize(img Image) (Image, error) {
	n, err := asNative(img)
	if err != nil {
		return nil, err
	}
	return &nativeImage{img: libimaging.AdjustContrast(n.img, 0), format: n.format}, nil
}

func (b *LocalBackend) UnsharpMask(img Image) (Image, error) {
	n, err := asNative(img)
	if err != nil {
		return nil, err
	}
	sharpened := libimaging.Sharpen(n.img, 1.0)
	return &nativeImage{img: sharpened, format: n.format}, nil
}

func (b *LocalBackend) ExtractMetadata(img Image) (Metadata, error) {
	n, err := asNative(img)
	if err != nil {
		return nil, err
	}
	return Metadata{
		"width":  strconv.Itoa(n.Width()),
		"height": strconv.Itoa(n.Height()),
		"format": n.format,
	}, nil
}
