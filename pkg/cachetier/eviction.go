package cachetier

import (
	"context"
	"fmt"
	"sort"
)

// Clean runs the eviction algorithm (spec §4.3). It is deterministic:
// given the same entry set and access times, it evicts the same entries
// in the same order every time.
func (t *Tier) Clean(ctx context.Context) error {
	if t.evictionDisabled {
		return nil
	}

	t.mu.Lock()
	if t.countMax <= 0 && t.sizeMax <= 0 {
		t.mu.Unlock()
		return nil
	}
	now := t.clock()
	snapshot := make([]*Entry, 0, len(t.contents))
	names := make(map[*Entry]string, len(t.contents))
	for name, e := range t.contents {
		snapshot = append(snapshot, e)
		names[e] = name
	}
	sort.SliceStable(snapshot, func(i, j int) bool {
		if !snapshot[i].LastAccess.Equal(snapshot[j].LastAccess) {
			return snapshot[i].LastAccess.Before(snapshot[j].LastAccess)
		}
		return snapshot[i].seq < snapshot[j].seq
	})

	var kill, unsafe, retain []*Entry
	for _, e := range snapshot {
		switch {
		case e.effectiveMustRetain(now) && !e.Handle.HasPersistence():
			unsafe = append(unsafe, e)
		case !e.PreferRetain:
			kill = append(kill, e)
		default:
			retain = append(retain, e)
		}
	}

	targetCount := 0
	if t.countMax > 0 {
		targetCount = int(t.hysteresis * float64(t.countMax))
	}
	targetBytes := int64(0)
	if t.sizeMax > 0 {
		targetBytes = int64(t.hysteresis * float64(t.sizeMax))
	}
	t.mu.Unlock()

	ordered := make([]*Entry, 0, len(snapshot))
	ordered = append(ordered, kill...)
	ordered = append(ordered, unsafe...)
	ordered = append(ordered, retain...)

	var freedCount int
	var freedBytes int64
	for _, e := range ordered {
		if freedCount >= targetCount && freedBytes >= targetBytes {
			break
		}
		name := names[e]
		if e.effectiveMustRetain(now) && !e.Handle.HasPersistence() {
			if err := t.writeBack(ctx, name, e); err != nil {
				t.logger.Event("tier.clean_writeback_failed", map[string]interface{}{"tier": t.name, "name": name, "error": err.Error()})
				continue
			}
		}
		if t.removeIfUnchanged(ctx, name, e) {
			freedCount++
			freedBytes += e.Size
			t.logger.Event("tier.evict", map[string]interface{}{"tier": t.name, "name": name})
		}
	}

	if t.overBound() {
		return t.handleCleanFailure(ctx)
	}
	return nil
}

// removeIfUnchanged removes name from the index iff it still maps to the
// same Entry observed by the eviction snapshot (a concurrent Delete or
// re-Add may have already replaced or removed it).
func (t *Tier) removeIfUnchanged(ctx context.Context, name string, e *Entry) bool {
	t.mu.Lock()
	cur, ok := t.contents[name]
	if !ok || cur != e {
		t.mu.Unlock()
		return false
	}
	delete(t.contents, name)
	t.sizeUsed -= e.Size
	t.mu.Unlock()

	if err := t.medium.RemoveBytes(ctx, name); err != nil {
		t.logger.Event("tier.evict_remove_bytes_failed", map[string]interface{}{"tier": t.name, "name": name, "error": err.Error()})
	}
	return true
}

// handleCleanFailure runs when a clean pass could not bring the tier
// within bounds. The local-file variant writes back what it can and
// wipes its storage; other variants surface ErrInternalTierError.
func (t *Tier) handleCleanFailure(ctx context.Context) error {
	if !t.wipeOnCleanFailure {
		return ErrInternalTierError
	}

	t.mu.Lock()
	remaining := make([]*Entry, 0, len(t.contents))
	names := make(map[*Entry]string, len(t.contents))
	for name, e := range t.contents {
		remaining = append(remaining, e)
		names[e] = name
	}
	t.mu.Unlock()

	now := t.clock()
	for _, e := range remaining {
		if e.effectiveMustRetain(now) && !e.Handle.HasPersistence() {
			_ = t.writeBack(ctx, names[e], e) // best effort; wipe proceeds regardless
		}
	}

	if wiper, ok := t.medium.(Wiper); ok {
		if err := wiper.Wipe(ctx); err != nil {
			return fmt.Errorf("%w: wipe: %s", ErrInternalTierError, err)
		}
	}

	t.mu.Lock()
	t.contents = make(map[string]*Entry)
	t.sizeUsed = 0
	t.mu.Unlock()
	t.logger.Event("tier.clean_failure_wiped", map[string]interface{}{"tier": t.name})
	return nil
}
