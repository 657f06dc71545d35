package repo

import (
	"context"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
)

// HTTPFacade is the method set spec §6 expects an HTTP collaborator to
// drive against Master. The HTTP surface itself is out of scope (spec
// §6/§9); this interface exists so the collaborator boundary is
// type-checked even though no HTTP server in this repository drives it.
// *Master satisfies it structurally.
type HTTPFacade interface {
	GetAsDefined(ctx context.Context, rendered string) (*artifact.Handle, error)
	ListBaseImages(pathPrefix, pattern string) ([]string, error)
	ContainsOriginal(baseName string) bool
	MakePersistent(ctx context.Context, name string) error
	URL(ctx context.Context, name string) (string, error)
	Degraded() bool
	Shutdown(ctx context.Context) error
}

var _ HTTPFacade = (*Master)(nil)
