package cachetier

import (
	"time"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
)

// Entry is one cache-tier record: a Handle plus the retention and
// accounting state the eviction algorithm needs.
type Entry struct {
	Handle *artifact.Handle

	// Size is the byte footprint this artifact occupies in this tier.
	Size int64

	// LastAccess is updated on every hit; eviction walks entries oldest
	// first by this field.
	LastAccess time.Time

	// PreferRetain deprioritizes this entry for eviction (policy: set
	// for thumbnails).
	PreferRetain bool

	// MustRetain marks that this artifact must not vanish from the tier
	// hierarchy without a persistent copy (policy: set for originals).
	MustRetain bool

	// RetainUntil, while in the future, is treated as MustRetain. Set
	// when a temporary URL has been issued.
	RetainUntil time.Time

	// seq breaks ties in LastAccess ordering by insertion order, and
	// distinguishes one insertion of a given name from a later one that
	// reused the same map slot.
	seq uint64
}

// effectiveMustRetain reports whether the entry should be treated as
// must-retain right now, folding in a still-pending RetainUntil.
func (e *Entry) effectiveMustRetain(now time.Time) bool {
	if e.MustRetain {
		return true
	}
	return !e.RetainUntil.IsZero() && e.RetainUntil.After(now)
}
