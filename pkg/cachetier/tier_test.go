package cachetier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
)

func TestAddIsIdempotent(t *testing.T) {
	tier, err := New(Options{Name: "mem", Medium: MemoryMedium{}, Hysteresis: 0.5})
	require.NoError(t, err)

	h1 := artifact.FromBytes(nil, []byte("a"), "jpg")
	got1, err := tier.Add(context.Background(), "x.jpg", h1, false, false)
	require.NoError(t, err)
	assert.Same(t, h1, got1)

	h2 := artifact.FromBytes(nil, []byte("b"), "jpg")
	got2, err := tier.Add(context.Background(), "x.jpg", h2, false, false)
	require.NoError(t, err)
	assert.Same(t, h1, got2, "second add of the same name must be a no-op returning the existing handle")
}

func TestAddRejectsOversize(t *testing.T) {
	tier, err := New(Options{Name: "mem", Medium: MemoryMedium{}, SizeMax: 1_000_000, Hysteresis: 0.5})
	require.NoError(t, err)

	h := artifact.FromBytes(nil, make([]byte, 200_000), "jpg")
	_, err = tier.Add(context.Background(), "big.jpg", h, false, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOversizeRejected))
	assert.Equal(t, int64(0), tier.SizeUsed())
}

func TestSizeUsedInvariant(t *testing.T) {
	tier, err := New(Options{Name: "mem", Medium: MemoryMedium{}, Hysteresis: 0.5})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tier.Add(ctx, "a.jpg", artifact.FromBytes(nil, make([]byte, 10), "jpg"), false, false)
	require.NoError(t, err)
	_, err = tier.Add(ctx, "b.jpg", artifact.FromBytes(nil, make([]byte, 20), "jpg"), false, false)
	require.NoError(t, err)

	assert.Equal(t, int64(30), tier.SizeUsed())

	require.NoError(t, tier.Delete(ctx, "a.jpg"))
	assert.Equal(t, int64(20), tier.SizeUsed())
}

func TestEvictionWithRetainScenario(t *testing.T) {
	clock := &fakeClock{}
	tier, err := New(Options{
		Name:       "mem",
		Medium:     MemoryMedium{},
		CountMax:   4,
		Hysteresis: 0.5,
		Clock:      clock.now,
	})
	require.NoError(t, err)
	ctx := context.Background()

	add := func(name string, preferRetain bool) {
		clock.advance()
		_, err := tier.Add(ctx, name, artifact.FromBytes(nil, []byte("x"), "jpg"), preferRetain, false)
		require.NoError(t, err)
	}

	add("e1.jpg", false)
	add("e2.jpg", false)
	add("e3.jpg", true)
	add("e4.jpg", true)
	// tier is now at its count_max of 4; clean did not trigger yet since
	// overBound() requires len > countMax, not == only after the 5th add
	add("e5.jpg", false) // triggers clean synchronously

	assert.False(t, tier.Contains("e1.jpg"))
	assert.False(t, tier.Contains("e2.jpg"))
	assert.True(t, tier.Contains("e3.jpg"))
	assert.True(t, tier.Contains("e4.jpg"))
	assert.True(t, tier.Contains("e5.jpg"))
}

func TestEvictionNeverRemovesUnsafeEntries(t *testing.T) {
	clock := &fakeClock{}
	tier, err := New(Options{
		Name:       "mem",
		Medium:     MemoryMedium{},
		CountMax:   2,
		Hysteresis: 0.9,
		Clock:      clock.now,
	})
	require.NoError(t, err)
	ctx := context.Background()

	clock.advance()
	h := artifact.FromBytes(nil, []byte("orig"), "jpg")
	_, err = tier.Add(ctx, "orig.jpg", h, false, true) // must_retain, no persistence, no successor configured
	require.NoError(t, err)

	clock.advance()
	_, err = tier.Add(ctx, "x2.jpg", artifact.FromBytes(nil, []byte("x"), "jpg"), false, false)
	require.NoError(t, err)

	clock.advance()
	// triggers a clean; orig.jpg cannot be safely evicted (must_retain,
	// no persistence, no successor tier to write back to)
	_, err = tier.Add(ctx, "x3.jpg", artifact.FromBytes(nil, []byte("x"), "jpg"), false, false)
	require.NoError(t, err)

	assert.True(t, tier.Contains("orig.jpg"))
}

func TestNeverEvictsWhenUnbounded(t *testing.T) {
	tier, err := New(Options{Name: "mem", Medium: MemoryMedium{}, Hysteresis: 0.5})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := tier.Add(ctx, nameFor(i), artifact.FromBytes(nil, []byte("x"), "jpg"), false, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 50, tier.CountUsed())
}

func nameFor(i int) string {
	return "n" + string(rune('a'+i%26)) + string(rune('A'+i/26)) + ".jpg"
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) advance() {
	if c.t.IsZero() {
		c.t = time.Unix(1_700_000_000, 0)
	} else {
		c.t = c.t.Add(time.Second)
	}
}

func (c *fakeClock) now() time.Time { return c.t }
