// Package cachetier implements Tier, one level of the hierarchical image
// cache: an index, size/count accounting, eviction, and a pluggable
// backing Medium. The same algorithm serves all four levels (memory,
// local-file, remote-cache, remote-store); only the Medium differs.
//
// Grounded on the teacher's pkg/image/store.go Store (index +
// pruneUnreferencedBlobs), generalized per spec §9's "Tier polymorphism"
// design note into an explicit Medium capability set.
package cachetier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
)

// EventLogger receives structured tier events. Implemented by
// pkg/logging's TierLogAdapter (which wraps an Emitter); kept as a narrow
// local interface so cachetier
// does not import pkg/logging directly. Nil is a valid, silent logger.
type EventLogger interface {
	Event(name string, fields map[string]interface{})
}

type noopLogger struct{}

func (noopLogger) Event(string, map[string]interface{}) {}

// Options configures a new Tier.
type Options struct {
	Name       string
	Medium     Medium
	SizeMax    int64   // 0 = unbounded
	CountMax   int     // 0 = unbounded
	Hysteresis float64 // fraction in (0,1)
	BaseCost   int

	// EagerWriteback writes back to the successor tier synchronously on
	// every Add, instead of relying only on eviction-time write-back.
	EagerWriteback bool

	// AsyncClean runs Clean in a background goroutine instead of inline
	// within Add. Tests generally want this false for determinism.
	AsyncClean bool

	// WipeOnCleanFailure marks this as the local-file variant's
	// clean-failure recovery path (spec §4.3: "the local-file variant
	// writes back... wipes its local storage, and re-enters from an
	// empty state").
	WipeOnCleanFailure bool

	// EvictionDisabled marks the remote-store tier, which never evicts
	// (spec §4.3: "The remote store disables clean").
	EvictionDisabled bool

	Logger EventLogger

	// Clock is injectable for deterministic tests; defaults to time.Now.
	Clock func() time.Time
}

// Tier is one level of the cache hierarchy.
type Tier struct {
	name string

	mu       sync.Mutex
	contents map[string]*Entry
	sizeUsed int64
	seqNext  uint64

	sizeMax    int64
	countMax   int
	hysteresis float64
	baseCost   int

	eagerWriteback     bool
	asyncClean         bool
	wipeOnCleanFailure bool
	evictionDisabled   bool

	medium  Medium
	logger  EventLogger
	clock   func() time.Time

	// nextEphemeral and nextRetained are the successor tier for
	// non-retained and retain-class entries respectively; previous is
	// the tier above, used for read-through promotion. Set by the
	// caller (Master) after construction since the chain is cyclic.
	nextEphemeral *Tier
	nextRetained  *Tier
	previous      *Tier
}

// New constructs a Tier. Link the tier chain afterward via SetSuccessors.
func New(opts Options) (*Tier, error) {
	if opts.Medium == nil {
		return nil, fmt.Errorf("cachetier: %s: medium is required", opts.Name)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	t := &Tier{
		name:               opts.Name,
		contents:           make(map[string]*Entry),
		sizeMax:            opts.SizeMax,
		countMax:           opts.CountMax,
		hysteresis:         opts.Hysteresis,
		baseCost:           opts.BaseCost,
		eagerWriteback:     opts.EagerWriteback,
		asyncClean:         opts.AsyncClean,
		wipeOnCleanFailure: opts.WipeOnCleanFailure,
		evictionDisabled:   opts.EvictionDisabled,
		medium:             opts.Medium,
		logger:             logger,
		clock:              clock,
	}
	if scanner, ok := opts.Medium.(Scanner); ok {
		if err := t.loadFromScan(scanner); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tier) loadFromScan(scanner Scanner) error {
	results, err := scanner.Scan(context.Background())
	if err != nil {
		return fmt.Errorf("cachetier: %s: startup scan: %w", t.name, err)
	}
	for _, r := range results {
		t.contents[r.Name] = &Entry{
			Handle:       r.Handle,
			Size:         r.Size,
			LastAccess:   t.clock(),
			PreferRetain: r.PreferRetain,
			MustRetain:   r.MustRetain,
			RetainUntil:  r.RetainUntil,
			seq:          t.nextSeq(),
		}
		t.sizeUsed += r.Size
	}
	return nil
}

// Name returns the tier's configured name (for logging/diagnostics).
func (t *Tier) Name() string { return t.name }

// SetSuccessors wires the next tier for each retention class and the back
// reference used for read-through promotion. Called once by Master after
// all tiers are constructed.
func (t *Tier) SetSuccessors(nextEphemeral, nextRetained, previous *Tier) {
	t.nextEphemeral = nextEphemeral
	t.nextRetained = nextRetained
	t.previous = previous
}

func (t *Tier) nextSeq() uint64 {
	t.seqNext++
	return t.seqNext
}

// Contains tests membership in the index.
func (t *Tier) Contains(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.contents[name]
	return ok
}

// Get returns the Handle for name on a hit, updating LastAccess.
func (t *Tier) Get(name string) (*artifact.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.contents[name]
	if !ok {
		return nil, false
	}
	e.LastAccess = t.clock()
	return e.Handle, true
}

// Cost returns the tier's base_cost on a hit, or false on a miss.
func (t *Tier) Cost(name string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.contents[name]
	if !ok {
		return 0, false
	}
	return t.baseCost, true
}

// SizeUsed and CountUsed expose current accounting, chiefly for tests
// asserting the size_used invariant.
func (t *Tier) SizeUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sizeUsed
}

func (t *Tier) CountUsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.contents)
}

// Stressed reports how close to its bounds the tier is, as the larger of
// the count and size fill fractions. Returns 0 for an unbounded tier. A
// read-only diagnostic; it does not participate in any eviction decision
// (spec §9, supplemented from original_source/src/Caches.py's stressed()).
func (t *Tier) Stressed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var frac float64
	if t.countMax > 0 {
		if f := float64(len(t.contents)) / float64(t.countMax); f > frac {
			frac = f
		}
	}
	if t.sizeMax > 0 {
		if f := float64(t.sizeUsed) / float64(t.sizeMax); f > frac {
			frac = f
		}
	}
	return frac
}

// Add inserts handle under name with the given retention policy. On a
// name already present, it is a no-op returning the existing Handle
// (idempotent). Returns ErrOversizeRejected if size_max > 0 and the
// handle is larger than 10% of it — recoverable by the caller, which
// should try the next tier down.
func (t *Tier) Add(ctx context.Context, name string, h *artifact.Handle, preferRetain, mustRetain bool) (*artifact.Handle, error) {
	t.mu.Lock()
	if existing, ok := t.contents[name]; ok {
		t.mu.Unlock()
		return existing.Handle, nil
	}
	size := h.Size()
	if t.sizeMax > 0 && size > 0 && float64(size) > 0.1*float64(t.sizeMax) {
		t.mu.Unlock()
		return nil, ErrOversizeRejected
	}
	entry := &Entry{
		Handle:       h,
		Size:         size,
		LastAccess:   t.clock(),
		PreferRetain: preferRetain,
		MustRetain:   mustRetain,
		seq:          t.nextSeq(),
	}
	t.contents[name] = entry
	t.sizeUsed += size
	t.mu.Unlock()

	h.SetNameHint(name)
	if err := t.medium.StoreBytes(ctx, name, h); err != nil {
		t.mu.Lock()
		delete(t.contents, name)
		t.sizeUsed -= size
		t.mu.Unlock()
		return nil, fmt.Errorf("cachetier: %s: store %s: %w", t.name, name, err)
	}
	t.logger.Event("tier.add", map[string]interface{}{"tier": t.name, "name": name, "size": size})

	if t.eagerWriteback {
		if err := t.writeBack(ctx, name, entry); err != nil {
			t.logger.Event("tier.writeback_failed", map[string]interface{}{"tier": t.name, "name": name, "error": err.Error()})
		}
	}

	if t.overBound() {
		if t.asyncClean {
			go func() {
				if err := t.Clean(context.Background()); err != nil {
					t.logger.Event("tier.clean_failed", map[string]interface{}{"tier": t.name, "error": err.Error()})
				}
			}()
		} else if err := t.Clean(ctx); err != nil {
			return h, err
		}
	}

	return h, nil
}

func (t *Tier) overBound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return (t.countMax > 0 && len(t.contents) > t.countMax) || (t.sizeMax > 0 && t.sizeUsed > t.sizeMax)
}

// Delete removes name. If the entry is must-retain and has no persistent
// copy anywhere in the tier hierarchy, write-back is awaited before
// removal (spec §5: "MUST await the write-back, not merely enqueue it").
// Idempotent on repeat calls.
func (t *Tier) Delete(ctx context.Context, name string) error {
	t.mu.Lock()
	e, ok := t.contents[name]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if e.effectiveMustRetain(t.clock()) && !e.Handle.HasPersistence() {
		if err := t.writeBack(ctx, name, e); err != nil {
			return fmt.Errorf("cachetier: %s: write-back before delete %s: %w", t.name, name, err)
		}
	}

	t.mu.Lock()
	if cur, ok := t.contents[name]; ok && cur == e {
		delete(t.contents, name)
		t.sizeUsed -= e.Size
	}
	t.mu.Unlock()

	if err := t.medium.RemoveBytes(ctx, name); err != nil {
		return fmt.Errorf("cachetier: %s: remove %s: %w", t.name, name, err)
	}
	t.logger.Event("tier.delete", map[string]interface{}{"tier": t.name, "name": name})
	return nil
}

// SetRetainUntil updates name's retention expiry in the index and, if the
// medium durably records it, persists it there too (spec §4.5's url()
// operation: "update retain_until locally").
func (t *Tier) SetRetainUntil(ctx context.Context, name string, until time.Time) error {
	t.mu.Lock()
	e, ok := t.contents[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("cachetier: %s: %s not present", t.name, name)
	}
	e.RetainUntil = until
	t.mu.Unlock()

	if setter, ok := t.medium.(RetainUntilSetter); ok {
		return setter.SetRetainUntil(ctx, name, until)
	}
	return nil
}

// RetainUntil returns name's current retention expiry, or the zero time
// if none is set or name is absent.
func (t *Tier) RetainUntil(name string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.contents[name]
	if !ok {
		return time.Time{}
	}
	return e.RetainUntil
}

// Snapshot returns a point-in-time copy of name -> Handle for every entry,
// used by Master at startup to rebuild its base_images index across all
// four tiers.
func (t *Tier) Snapshot() map[string]*artifact.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*artifact.Handle, len(t.contents))
	for name, e := range t.contents {
		out[name] = e.Handle
	}
	return out
}

// FlushAll writes back every entry to its successor tier and removes it
// from this tier, used by Master.Shutdown to drain the memory and
// local-file tiers (spec §4.5: "flush memory tier and then local-file
// tier down to their successors").
func (t *Tier) FlushAll(ctx context.Context) error {
	t.mu.Lock()
	names := make([]string, 0, len(t.contents))
	for name := range t.contents {
		names = append(names, name)
	}
	t.mu.Unlock()

	for _, name := range names {
		t.mu.Lock()
		e, ok := t.contents[name]
		t.mu.Unlock()
		if !ok {
			continue
		}
		if err := t.writeBack(ctx, name, e); err != nil {
			return fmt.Errorf("cachetier: %s: flush write-back %s: %w", t.name, name, err)
		}
		t.mu.Lock()
		if cur, ok := t.contents[name]; ok && cur == e {
			delete(t.contents, name)
			t.sizeUsed -= e.Size
		}
		t.mu.Unlock()
		if err := t.medium.RemoveBytes(ctx, name); err != nil {
			return fmt.Errorf("cachetier: %s: flush remove %s: %w", t.name, name, err)
		}
	}
	return nil
}

// writeBack propagates entry to the successor tier matching its
// retention class, releasing no lock itself (callers must not hold t.mu).
func (t *Tier) writeBack(ctx context.Context, name string, e *Entry) error {
	dest := t.nextEphemeral
	if e.effectiveMustRetain(t.clock()) {
		dest = t.nextRetained
	}
	if dest == nil {
		return ErrNoSuccessorTier
	}
	if _, err := dest.Add(ctx, name, e.Handle, e.PreferRetain, e.MustRetain); err != nil {
		return err
	}
	return nil
}
