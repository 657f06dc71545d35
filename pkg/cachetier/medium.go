package cachetier

import (
	"context"
	"time"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
)

// Medium is the capability set a concrete cache level supplies; the tier
// algorithm itself (index, accounting, eviction) is identical across all
// four variants (spec §4.3, §9 "Tier polymorphism").
type Medium interface {
	// StoreBytes persists handle under name in this medium.
	StoreBytes(ctx context.Context, name string, h *artifact.Handle) error
	// RemoveBytes deletes name's bytes from this medium. Idempotent.
	RemoveBytes(ctx context.Context, name string) error
}

// ScanResult is one pre-existing artifact discovered during startup scan.
type ScanResult struct {
	Name         string
	Handle       *artifact.Handle
	Size         int64
	PreferRetain bool
	MustRetain   bool
	RetainUntil  time.Time
}

// Scanner is implemented by mediums that can reconstruct their index at
// startup without the Master (local-file, remote-cache, remote-store).
type Scanner interface {
	Scan(ctx context.Context) ([]ScanResult, error)
}

// Wiper is implemented by mediums that can discard all of their contents
// in one step, used by the local-file tier's clean-failure recovery path.
type Wiper interface {
	Wipe(ctx context.Context) error
}

// MayRemover is implemented by mediums that guard deletes against a
// still-live retention window re-read from the medium itself (the
// remote-store tier's lifetime metadata).
type MayRemover interface {
	MayRemove(ctx context.Context, name string) (bool, error)
}

// RetainUntilSetter is implemented by mediums that can durably record a
// retain_until expiry so it survives a restart (the local-file tier's
// ledger, the remote tiers' "lifetime" object metadata).
type RetainUntilSetter interface {
	SetRetainUntil(ctx context.Context, name string, until time.Time) error
}
