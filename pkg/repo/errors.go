package repo

import (
	"errors"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/cachetier"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/derive"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
)

// ErrCapacityExceeded is returned by Add when no tier, including the
// final one tried, accepts the artifact.
var ErrCapacityExceeded = errors.New("repo: capacity exceeded")

// ErrNotPersistable is returned by MakePersistent or URL when no tier
// accepts a persistent copy of the artifact.
var ErrNotPersistable = errors.New("repo: artifact cannot be made persistent")

// ErrBadQuery is returned by ListBaseImages when the supplied regular
// expression fails to compile.
var ErrBadQuery = errors.New("repo: bad query")

// ErrNotFound is returned by operations that require an artifact already
// known to the catalog.
var ErrNotFound = errors.New("repo: not found")

// codeTable maps spec §7's error taxonomy onto HTTP-grade numeric codes.
// This is the one place that knows about HTTP status codes, since only
// the (out-of-scope) HTTP surface collaborator consumes them. Master's
// operations also return errors that wrap none of these sentinels (for
// example a signing or metadata failure in URL); CodeFor gives those 500.
var codeTable = []struct {
	err  error
	code int
}{
	{imagename.ErrMalformedName, 400},
	{derive.ErrUnknownBase, 404},
	{derive.ErrDerivationMismatch, 500},
	{cachetier.ErrOversizeRejected, 413},
	{ErrCapacityExceeded, 507},
	{ErrNotPersistable, 422},
	{cachetier.ErrInsecureCacheDir, 500},
	{artifact.ErrIo, 500},
	{artifact.ErrDecoder, 422},
	{cachetier.ErrInternalTierError, 500},
	{ErrBadQuery, 400},
	{ErrNotFound, 404},
}

// CodeFor returns the HTTP-grade numeric code spec §7 assigns to err's
// taxonomy member, or 500 if err does not classify as any known sentinel.
func CodeFor(err error) int {
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return 500
}

// recoverable reports whether err should count against the process-wide
// error budget (spec §7's recoverable-error-counter rule): everything
// except the caller-side/not-found classes, which are not a sign of
// cache or back-end degradation.
func recoverable(err error) bool {
	switch {
	case errors.Is(err, imagename.ErrMalformedName),
		errors.Is(err, ErrBadQuery),
		errors.Is(err, ErrNotFound),
		errors.Is(err, derive.ErrUnknownBase):
		return false
	default:
		return err != nil
	}
}
