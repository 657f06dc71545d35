package cachetier

import (
	"context"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
)

// MemoryMedium is the Medium for the top-of-chain in-memory tier. The
// Handle itself already carries the bytes once materialized; this medium
// has nothing additional to persist or remove.
type MemoryMedium struct{}

func (MemoryMedium) StoreBytes(ctx context.Context, name string, h *artifact.Handle) error {
	return nil
}

func (MemoryMedium) RemoveBytes(ctx context.Context, name string) error {
	return nil
}
