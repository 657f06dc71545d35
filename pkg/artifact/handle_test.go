package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imaging"
)

// fakeImage and fakeBackend give the artifact tests a deterministic,
// dependency-free stand-in for the real pixel backend.
type fakeImage struct{ w, h int }

func (f *fakeImage) Width() int  { return f.w }
func (f *fakeImage) Height() int { return f.h }

type fakeBackend struct{ supportsLiquid bool }

func (b *fakeBackend) Decode(data []byte) (imaging.Image, error) {
	return &fakeImage{w: 400, h: 200}, nil
}
func (b *fakeBackend) Encode(img imaging.Image, format string) ([]byte, error) {
	fi := img.(*fakeImage)
	return []byte(format + ":" + itoa(fi.w) + "x" + itoa(fi.h)), nil
}
func (b *fakeBackend) Clone(img imaging.Image) imaging.Image {
	fi := img.(*fakeImage)
	return &fakeImage{w: fi.w, h: fi.h}
}
func (b *fakeBackend) StripMetadata(img imaging.Image) imaging.Image { return img }
func (b *fakeBackend) Crop(img imaging.Image, w, h, x, y int) (imaging.Image, error) {
	return &fakeImage{w: w, h: h}, nil
}
func (b *fakeBackend) Resize(img imaging.Image, w, h int) (imaging.Image, error) {
	return &fakeImage{w: w, h: h}, nil
}
func (b *fakeBackend) LiquidRescale(img imaging.Image, w, h int) (imaging.Image, error) {
	if !b.supportsLiquid {
		return nil, imaging.ErrUnsupported
	}
	return &fakeImage{w: w, h: h}, nil
}
func (b *fakeBackend) Equalize(img imaging.Image) (imaging.Image, error)    { return img, nil }
func (b *fakeBackend) UnsharpMask(img imaging.Image) (imaging.Image, error) { return img, nil }
func (b *fakeBackend) ExtractMetadata(img imaging.Image) (imaging.Metadata, error) {
	return imaging.Metadata{}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestBytesMaterializesFromLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orig.jpg")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	h := FromLocalFile(&fakeBackend{}, path, "jpg", 5)
	data, err := h.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBytesFailsWithNoSource(t *testing.T) {
	h := &Handle{backend: &fakeBackend{}}
	_, err := h.Bytes(context.Background())
	require.Error(t, err)
}

func TestAsLocalFileWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	h := FromBytes(&fakeBackend{}, []byte("payload"), "jpg")
	h.SetNameHint("abc123.jpg")

	path, err := h.AsLocalFile(context.Background(), dir)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// Idempotent: second call returns the same path without rewriting.
	path2, err := h.AsLocalFile(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
}

func TestConvertNoOpWhenFormatUnchanged(t *testing.T) {
	h := FromBytes(&fakeBackend{}, []byte("data"), "jpg")
	same, err := h.Convert(context.Background(), "jpg")
	require.NoError(t, err)
	assert.Same(t, h, same)
}

func TestConvertProducesNewHandle(t *testing.T) {
	h := FromBytes(&fakeBackend{}, []byte("data"), "jpg")
	converted, err := h.Convert(context.Background(), "png")
	require.NoError(t, err)
	assert.NotSame(t, h, converted)
	assert.Equal(t, "png", converted.Format())
}

func TestCloneSharesNoMutableState(t *testing.T) {
	h := FromBytes(&fakeBackend{}, []byte("data"), "jpg")
	clone := h.Clone()

	// mutating the clone's in-memory bytes must not affect the original
	clone.memBytes[0] = 'X'
	assert.Equal(t, byte('d'), h.memBytes[0])
}

func TestThumbnailFallsBackToResizeWithoutLiquidSupport(t *testing.T) {
	h := FromBytes(&fakeBackend{supportsLiquid: false}, []byte("data"), "jpg")
	// the fake decodes to 400x200 (ratio 2), past the 1.5 cut-in, so a
	// liquid rescale is attempted before the fallback
	thumb, err := h.Thumbnail(context.Background(), 50, 50, imagename.ThumbnailFlags{Liquid: true}, ThumbnailPolicy{LiquidCutinRatio: 1.5})
	require.NoError(t, err)
	assert.NotNil(t, thumb)
}

func TestMd5Materializes(t *testing.T) {
	h := FromBytes(&fakeBackend{}, []byte("hello"), "jpg")
	sum, err := h.Md5(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)
}
