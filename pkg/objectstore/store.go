// Package objectstore defines the remote blob store contract the cache's
// remote-cache and remote-store tiers speak to, plus a default adapter over
// cloud.google.com/go/storage. The core never talks to a specific cloud API
// directly; it calls through Store so the remote side stays an external
// collaborator (spec §6: "Remote blob store").
//
// Grounded on GoogleContainerTools-skaffold's pkg/skaffold/gcs client usage
// of cloud.google.com/go/storage.
package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one remote object as returned by List and Stat.
type ObjectInfo struct {
	Name        string
	Size        int64
	ContentType string
	// Metadata holds the application metadata keys the store tracks
	// (in particular the "lifetime" key tiers use for retention).
	Metadata map[string]string
}

// SignMethod is the HTTP method a signed URL is valid for.
type SignMethod string

const (
	SignMethodGet SignMethod = "GET"
	SignMethodPut SignMethod = "PUT"
)

// Store is the remote blob store contract (spec §6).
type Store interface {
	// List enumerates every object in container.
	List(ctx context.Context, container string) ([]ObjectInfo, error)

	// Get downloads container/name and writes it to destPath, creating or
	// truncating the file. The remote-store client can only materialize
	// into a file, never directly into memory (spec §4.3).
	Get(ctx context.Context, container, name, destPath string) error

	// Put uploads data as container/name, overwriting any existing
	// object, with the supplied content type.
	Put(ctx context.Context, container, name string, data io.Reader, size int64, contentType string) error

	// Delete removes the named objects. Missing objects are not an error.
	Delete(ctx context.Context, container string, names []string) error

	// Stat returns metadata (including application metadata) for the
	// named objects, in no particular order. A missing object is simply
	// absent from the result, not an error.
	Stat(ctx context.Context, container string, names []string) ([]ObjectInfo, error)

	// PostMetadata merges the supplied key/value pairs into container/
	// name's application metadata, leaving other keys untouched.
	PostMetadata(ctx context.Context, container, name string, metadata map[string]string) error

	// SignURL returns a time-limited signed URL for method access to
	// container/name, valid until lifetime elapses. key identifies which
	// signing credential to use, for stores that hold more than one.
	SignURL(ctx context.Context, container, name string, method SignMethod, lifetime time.Duration, key string) (string, error)
}
