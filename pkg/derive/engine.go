// Package derive implements the Derivation Engine: given a target Name
// that does not yet exist in the Master, locate the original artifact and
// walk the target's operation chain against the pixel back end to produce
// it, coalescing concurrent requests for the same canonical Name.
//
// Grounded on the teacher's pkg/image/builder.go Builder.Build, which
// clones a base layer then walks a chain of mutations before verifying
// the result's digest. Here the verification compares only the produced
// Handle's format with the target Name's format; a Handle carries no Name
// of its own, so the rest of the rendered Name is not checked.
package derive

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
)

// Master is the narrow view of the Master catalog the engine needs. It is
// satisfied by pkg/repo.Master; kept here as a small interface so derive
// does not import repo (which imports derive to drive misses).
type Master interface {
	// Lookup returns the Handle already cached under name, without
	// triggering a derivation on a miss.
	Lookup(ctx context.Context, name string) (*artifact.Handle, bool)
	// BaseImage returns the original artifact's Handle for baseName, or
	// false if no such base has ever been added.
	BaseImage(ctx context.Context, baseName string) (*artifact.Handle, bool)
	// Insert places the derived artifact into the catalog under name,
	// according to cache policy.
	Insert(ctx context.Context, name string, h *artifact.Handle) error
}

// Engine materializes derived artifacts on demand.
type Engine struct {
	master  Master
	policy  artifact.ThumbnailPolicy
	group   singleflight.Group
}

// New constructs an Engine backed by master, applying policy to any
// thumbnail operations it walks.
func New(master Master, policy artifact.ThumbnailPolicy) *Engine {
	return &Engine{master: master, policy: policy}
}

// GetAsDefined materializes target, coalescing concurrent calls for the
// same rendered Name into a single derivation (spec §5's uniqueness
// invariant; spec §8 scenario 2).
func (e *Engine) GetAsDefined(ctx context.Context, target imagename.Name) (*artifact.Handle, error) {
	key := target.Render()
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.derive(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return v.(*artifact.Handle), nil
}

func (e *Engine) derive(ctx context.Context, target imagename.Name) (*artifact.Handle, error) {
	if h, ok := e.master.Lookup(ctx, target.Render()); ok {
		return h, nil
	}

	original, ok := e.master.BaseImage(ctx, target.BaseName())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBase, target.BaseName())
	}

	if target.Format() != original.Format() && len(target.Ops()) == 0 {
		target = target.ApplyConvert(target.Format())
	}

	cur := original.Clone()
	for _, op := range target.Ops() {
		var err error
		cur, err = e.applyOp(ctx, cur, op)
		if err != nil {
			return nil, err
		}
	}

	if cur.Format() != target.Format() {
		return nil, fmt.Errorf("%w: %s: produced format %q, want %q", ErrDerivationMismatch, target.Render(), cur.Format(), target.Format())
	}

	if err := e.master.Insert(ctx, target.Render(), cur); err != nil {
		return nil, fmt.Errorf("derive: insert %s: %w", target.Render(), err)
	}
	return cur, nil
}

func (e *Engine) applyOp(ctx context.Context, h *artifact.Handle, op imagename.Op) (*artifact.Handle, error) {
	switch op.Kind {
	case imagename.OpOriginal:
		return h, nil
	case imagename.OpSize:
		return h.Resize(ctx, op.W, op.H)
	case imagename.OpCrop:
		return h.Crop(ctx, op.W, op.H, op.X, op.Y)
	case imagename.OpThumbnail:
		return h.Thumbnail(ctx, op.W, op.H, op.Flags, e.policy)
	case imagename.OpConvert:
		return h.Convert(ctx, op.Format)
	case imagename.OpMetadata:
		return e.applyMetadata(ctx, h, op)
	default:
		return nil, fmt.Errorf("%w: unhandled operation kind %v", ErrDerivationMismatch, op.Kind)
	}
}
