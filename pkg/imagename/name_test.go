package imagename

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRenderRoundTrip(t *testing.T) {
	cases := []string{
		"abc123.jpg",
		"abc123+original(photo.JPG).jpg",
		"abc123+size(200,200).jpg",
		"abc123+crop(100,100,10,20).png",
		"abc123+thumbnail(64,64,els).png",
		"abc123+convert(png).png",
		"abc123+metadata(exif).exif",
		"abc123+original(photo.JPG)+size(200,200).jpg",
	}
	for _, s := range cases {
		n, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, n.Render())

		again, err := Parse(n.Render())
		require.NoError(t, err)
		assert.True(t, n.Equal(again))
	}
}

func TestParseRejectsUnknownOperation(t *testing.T) {
	_, err := Parse("abc123+sparkle(1).jpg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedName))
}

func TestParseRejectsMissingFormat(t *testing.T) {
	_, err := Parse("abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedName))
}

func TestParseRejectsMalformedOperation(t *testing.T) {
	for _, s := range []string{
		"abc123+size(200).jpg",     // wrong arity
		"abc123+size(a,b).jpg",     // non-integer
		"abc123+size(200,200.jpg",  // unterminated
		"abc123+convert().jpg",     // empty format
	} {
		_, err := Parse(s)
		require.Error(t, err, s)
		assert.True(t, errors.Is(err, ErrMalformedName), s)
	}
}

func TestApplyOriginalEncodesRawName(t *testing.T) {
	n := NewBase("abc123", "jpg")
	n = n.ApplyOriginal("my photo (final)+v2.jpg")
	rendered := n.Render()

	again, err := Parse(rendered)
	require.NoError(t, err)
	assert.True(t, again.IsOriginal())
	assert.False(t, again.IsBase())
}

func TestApplyConvertNoOpOnceDerived(t *testing.T) {
	base := NewBase("abc123", "jpg")
	resized := base.ApplySize(200, 200, "")
	converted := resized.ApplyConvert("png")

	assert.True(t, converted.Equal(resized), "convert must be a no-op once another derivation exists")

	fresh := base.ApplyConvert("png")
	assert.True(t, fresh.IsConvert())
	assert.Equal(t, "png", fresh.Format())
	assert.NotEqual(t, base.Render(), fresh.Render())
}

func TestApplyMetadataReplacesOpsList(t *testing.T) {
	n := NewBase("abc123", "jpg").ApplySize(200, 200, "").ApplyCrop(50, 50, 0, 0, "")
	n = n.ApplyMetadata("exif")

	assert.Equal(t, "abc123+metadata(exif).exif", n.Render())
	assert.True(t, n.IsMetadata())
	assert.Len(t, n.Ops(), 1)
}

func TestApplyThumbnailFlagOrdering(t *testing.T) {
	n := NewBase("abc123", "png").ApplyThumbnail(64, 64, ThumbnailFlags{Sharpen: true, Equalise: true, Liquid: true}, "")
	assert.Equal(t, "abc123+thumbnail(64,64,els).png", n.Render())
	assert.True(t, n.IsThumbnail())
}

func TestCloneMarkerStrippedOnApply(t *testing.T) {
	base := NewBase("abc123", "jpg")
	cloned := base.Clone()
	assert.Equal(t, "abc123+clone().jpg", cloned.Render())

	derived := cloned.ApplySize(10, 10, "")
	assert.Equal(t, "abc123+size(10,10).jpg", derived.Render())
}

func TestMasterAndBaseName(t *testing.T) {
	n := NewBase("abc123", "jpg").ApplySize(200, 200, "")
	assert.Equal(t, "abc123", n.BaseName())
	assert.Equal(t, "abc123.jpg", n.Master())
}

func TestPolicyFunctions(t *testing.T) {
	original := NewBase("abc123", "jpg").ApplyOriginal("photo.jpg")
	thumb := NewBase("abc123", "jpg").ApplyThumbnail(64, 64, ThumbnailFlags{}, "")
	resized := NewBase("abc123", "jpg").ApplySize(200, 200, "")

	assert.True(t, IsPermanentByPolicy(original))
	assert.False(t, IsPermanentByPolicy(resized))

	assert.True(t, ShouldRetainByPolicy(thumb))
	assert.False(t, ShouldRetainByPolicy(resized))
}

func TestSafeFileNameRoundTrip(t *testing.T) {
	rendered := "abc123+original(a b+c).jpg"
	safe := SafeFileName(rendered)
	assert.NotContains(t, safe, "/")
	assert.NotContains(t, safe, "+")

	back, err := UnsafeFileName(safe)
	require.NoError(t, err)
	assert.Equal(t, rendered, back)
}
