package cachetier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imaging"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/objectstore"
)

const lifetimeMetadataKey = "lifetime"

// RemoteMedium is the Medium shared by the remote-cache and remote-store
// tiers: both speak the same objectstore.Store contract, each against its
// own container, differing only in the must_retain default new objects get
// on startup scan (spec §4.3: "each object becomes an Entry with
// must_retain=false (remote cache) or must_retain=true (remote store)").
type RemoteMedium struct {
	store     objectstore.Store
	container string
	backend   imaging.Backend
	permanent bool // true for the remote-store variant
}

// NewRemoteMedium constructs a medium over store/container. Set permanent
// true for the remote-store tier, false for the remote-cache tier.
func NewRemoteMedium(store objectstore.Store, container string, backend imaging.Backend, permanent bool) *RemoteMedium {
	return &RemoteMedium{store: store, container: container, backend: backend, permanent: permanent}
}

func (m *RemoteMedium) StoreBytes(ctx context.Context, name string, h *artifact.Handle) error {
	return h.AsPersistent(ctx, m.store, m.container, name)
}

func (m *RemoteMedium) RemoveBytes(ctx context.Context, name string) error {
	return m.store.Delete(ctx, m.container, []string{name})
}

func (m *RemoteMedium) SetRetainUntil(ctx context.Context, name string, until time.Time) error {
	return m.store.PostMetadata(ctx, m.container, name, map[string]string{
		lifetimeMetadataKey: strconv.FormatInt(until.Unix(), 10),
	})
}

// MayRemove re-reads the lifetime metadata and returns false if it is
// still in the future, guarding explicit deletes on the remote-store tier
// (spec §4.3, §9: implemented as a pure re-check, not the source's
// mutate-and-query combination).
func (m *RemoteMedium) MayRemove(ctx context.Context, name string) (bool, error) {
	infos, err := m.store.Stat(ctx, m.container, []string{name})
	if err != nil {
		return false, fmt.Errorf("cachetier: stat %s/%s: %w", m.container, name, err)
	}
	if len(infos) == 0 {
		return true, nil
	}
	until := parseLifetime(infos[0].Metadata)
	if until.IsZero() {
		return true, nil
	}
	return !until.After(time.Now()), nil
}

func (m *RemoteMedium) Scan(ctx context.Context) ([]ScanResult, error) {
	objects, err := m.store.List(ctx, m.container)
	if err != nil {
		return nil, fmt.Errorf("cachetier: list %s: %w", m.container, err)
	}

	var out []ScanResult
	for _, obj := range objects {
		format := formatForContentType(obj.ContentType)
		n, err := imagename.Parse(obj.Name)
		preferRetain := false
		if err == nil {
			preferRetain = imagename.ShouldRetainByPolicy(n)
		}

		h := artifact.FromRemote(m.backend, m.store, m.container, obj.Name, format, obj.Size)
		retainUntil := parseLifetime(obj.Metadata)

		out = append(out, ScanResult{
			Name:         obj.Name,
			Handle:       h,
			Size:         obj.Size,
			PreferRetain: preferRetain,
			MustRetain:   m.permanent,
			RetainUntil:  retainUntil,
		})
	}
	return out, nil
}

func parseLifetime(metadata map[string]string) time.Time {
	raw, ok := metadata[lifetimeMetadataKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	until := time.Unix(unix, 0)
	if !until.After(time.Now()) {
		return time.Time{}
	}
	return until
}

func formatForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/tiff":
		return "tif"
	case "image/bmp":
		return "bmp"
	case "application/x-miff":
		return "miff"
	default:
		return "jpg"
	}
}
