package cachetier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
)

func TestLocalFileMediumRejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o755))

	_, err := NewLocalFileMedium(dir, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsecureCacheDir)
}

func TestLocalFileTierRestartConsistency(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o700))
	ctx := context.Background()

	medium, err := NewLocalFileMedium(dir, nil, false)
	require.NoError(t, err)

	tier, err := New(Options{Name: "local", Medium: medium, Hysteresis: 0.5})
	require.NoError(t, err)

	rendered := "photo+size(200,200).jpg"
	h := artifact.FromBytes(nil, []byte("derived-bytes"), "jpg")
	_, err = tier.Add(ctx, rendered, h, false, false)
	require.NoError(t, err)
	require.NoError(t, medium.Close())

	// Restart: open a fresh medium and tier over the same directory.
	medium2, err := NewLocalFileMedium(dir, nil, false)
	require.NoError(t, err)
	tier2, err := New(Options{Name: "local", Medium: medium2, Hysteresis: 0.5})
	require.NoError(t, err)

	n, err := imagename.Parse(rendered)
	require.NoError(t, err)
	assert.True(t, tier2.Contains(n.Render()))
	assert.Equal(t, int64(len("derived-bytes")), tier2.SizeUsed())

	onDisk := filepath.Join(dir, imagename.SafeFileName(rendered))
	info, err := os.Stat(onDisk)
	require.NoError(t, err)
	assert.Equal(t, int64(len("derived-bytes")), info.Size())
}

func TestLocalFileMediumWipe(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o700))
	ctx := context.Background()

	medium, err := NewLocalFileMedium(dir, nil, false)
	require.NoError(t, err)
	h := artifact.FromBytes(nil, []byte("x"), "jpg")
	require.NoError(t, medium.StoreBytes(ctx, "a.jpg", h))

	require.NoError(t, medium.Wipe(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.Name() == retainLedgerFile || len(e.Name()) == 0 || e.Name()[0] == '.', "wipe must remove non-dotfile entries, found %s", e.Name())
	}
}
