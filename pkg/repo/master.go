// Package repo implements Master, the top-level catalog that composes the
// four-tier cache hierarchy and the Derivation Engine into the operations
// an HTTP collaborator drives: get, get_as_defined, add, list_base_images,
// make_persistent, url, shutdown.
//
// Grounded on the teacher's top-level pkg/image/store.go Store
// (Save/Get/List/Remove, GC over one flat blob store), generalized from a
// single store to the four-tier chain described in
// original_source/src/Caches.py's CacheMaster.
package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/cachetier"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/derive"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imaging"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/objectstore"
)

// TierConfig carries the per-tier bounds shared by every level (spec §6's
// "per tier" configuration group).
type TierConfig struct {
	SizeMax        int64
	CountMax       int
	Hysteresis     float64
	EagerWriteback bool
}

// Options configures a new Master. The zero value of any TierConfig means
// that tier is unbounded.
type Options struct {
	Backend imaging.Backend
	Store   objectstore.Store

	Memory    TierConfig
	LocalFile TierConfig

	LocalFileCachePath  string
	LocalFileInitialise bool

	RemoteCache           TierConfig
	RemoteCacheContainer  string
	RemoteCacheInitialise bool

	RemoteStore           TierConfig
	RemoteStoreContainer  string
	RemoteStoreInitialise bool

	URLLifetime      time.Duration
	URLLifetimeSlack time.Duration
	URLKey           string
	URLMethod        objectstore.SignMethod

	ThumbnailPolicy artifact.ThumbnailPolicy

	// ErrorBudget is the number of recoverable errors tolerated before
	// Degraded() reports true (spec §7's recoverable-error-counter
	// rule). Zero disables the check (Degraded always false).
	ErrorBudget int64

	Logger cachetier.EventLogger
	Clock  func() time.Time
}

// Master is the top-level catalog.
type Master struct {
	backend imaging.Backend
	store   objectstore.Store

	memory      *cachetier.Tier
	localFile   *cachetier.Tier
	remoteCache *cachetier.Tier
	remoteStore *cachetier.Tier

	localFileMedium *cachetier.LocalFileMedium

	remoteCacheContainer string
	remoteStoreContainer string

	urlLifetime      time.Duration
	urlLifetimeSlack time.Duration
	urlKey           string
	urlMethod        objectstore.SignMethod

	engine *derive.Engine

	mu         sync.Mutex
	baseImages map[string]*artifact.Handle

	logger cachetier.EventLogger

	errorBudget int64
	errorCount  atomic.Int64
}

// New constructs a Master: builds the four tiers, wires their successor
// chain per spec §4.5, rebuilds the base_images index from whatever each
// tier's startup scan discovered, and wires the Derivation Engine.
func New(opts Options) (*Master, error) {
	logger := opts.Logger

	memory, err := cachetier.New(cachetier.Options{
		Name:           "memory",
		Medium:         cachetier.MemoryMedium{},
		SizeMax:        opts.Memory.SizeMax,
		CountMax:       opts.Memory.CountMax,
		Hysteresis:     nonZero(opts.Memory.Hysteresis, 0.8),
		EagerWriteback: opts.Memory.EagerWriteback,
		Logger:         logger,
		Clock:          opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("repo: memory tier: %w", err)
	}

	localMedium, err := cachetier.NewLocalFileMedium(opts.LocalFileCachePath, opts.Backend, opts.LocalFileInitialise)
	if err != nil {
		return nil, fmt.Errorf("repo: local-file medium: %w", err)
	}
	localFile, err := cachetier.New(cachetier.Options{
		Name:           "local_file",
		Medium:         localMedium,
		SizeMax:        opts.LocalFile.SizeMax,
		CountMax:       opts.LocalFile.CountMax,
		Hysteresis:     nonZero(opts.LocalFile.Hysteresis, 0.8),
		EagerWriteback: opts.LocalFile.EagerWriteback,
		WipeOnCleanFailure: true,
		Logger:         logger,
		Clock:          opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("repo: local-file tier: %w", err)
	}

	remoteCacheMedium := cachetier.NewRemoteMedium(opts.Store, opts.RemoteCacheContainer, opts.Backend, false)
	remoteCache, err := cachetier.New(cachetier.Options{
		Name:           "remote_cache",
		Medium:         remoteCacheMedium,
		SizeMax:        opts.RemoteCache.SizeMax,
		CountMax:       opts.RemoteCache.CountMax,
		Hysteresis:     nonZero(opts.RemoteCache.Hysteresis, 0.8),
		EagerWriteback: opts.RemoteCache.EagerWriteback,
		Logger:         logger,
		Clock:          opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("repo: remote-cache tier: %w", err)
	}

	remoteStoreMedium := cachetier.NewRemoteMedium(opts.Store, opts.RemoteStoreContainer, opts.Backend, true)
	remoteStore, err := cachetier.New(cachetier.Options{
		Name:             "remote_store",
		Medium:           remoteStoreMedium,
		SizeMax:          opts.RemoteStore.SizeMax,
		CountMax:         opts.RemoteStore.CountMax,
		EvictionDisabled: true,
		Logger:           logger,
		Clock:            opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("repo: remote-store tier: %w", err)
	}

	// spec §4.5 wiring.
	memory.SetSuccessors(localFile, localFile, nil)
	localFile.SetSuccessors(remoteCache, remoteStore, memory)
	remoteCache.SetSuccessors(nil, nil, localFile)
	remoteStore.SetSuccessors(nil, nil, localFile)

	m := &Master{
		backend:               opts.Backend,
		store:                 opts.Store,
		memory:                memory,
		localFile:             localFile,
		remoteCache:           remoteCache,
		remoteStore:           remoteStore,
		localFileMedium:       localMedium,
		remoteCacheContainer:  opts.RemoteCacheContainer,
		remoteStoreContainer:  opts.RemoteStoreContainer,
		urlLifetime:           opts.URLLifetime,
		urlLifetimeSlack:      opts.URLLifetimeSlack,
		urlKey:                opts.URLKey,
		urlMethod:             opts.URLMethod,
		baseImages:            make(map[string]*artifact.Handle),
		logger:                logger,
		errorBudget:           opts.ErrorBudget,
	}
	m.engine = derive.New(m, opts.ThumbnailPolicy)

	for _, t := range m.tiers() {
		for name, h := range t.Snapshot() {
			n, err := imagename.Parse(name)
			if err != nil || !n.IsBase() {
				continue
			}
			if _, exists := m.baseImages[n.BaseName()]; !exists {
				m.baseImages[n.BaseName()] = h
			}
		}
	}

	return m, nil
}

func nonZero(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func (m *Master) tiers() []*cachetier.Tier {
	return []*cachetier.Tier{m.memory, m.localFile, m.remoteCache, m.remoteStore}
}

// recordError counts err against the process-wide error budget when it
// is a recoverable failure (spec §7), returning err unchanged so callers
// can write `return nil, m.recordError(err)`.
func (m *Master) recordError(err error) error {
	if err != nil && recoverable(err) {
		m.errorCount.Add(1)
	}
	return err
}

// Degraded reports whether the recoverable-error budget has been
// exhausted. The (out-of-scope) HTTP surface is expected to check this
// before accepting new uploads.
func (m *Master) Degraded() bool {
	if m.errorBudget <= 0 {
		return false
	}
	return m.errorCount.Load() > m.errorBudget
}

// Get probes tiers in order and returns the first hit, promoting a
// remote-cache hit up to the memory tier.
func (m *Master) Get(ctx context.Context, name string) (*artifact.Handle, bool) {
	for _, t := range m.tiers() {
		if h, ok := t.Get(name); ok {
			if t == m.remoteCache {
				n, err := imagename.Parse(name)
				preferRetain := err == nil && imagename.ShouldRetainByPolicy(n)
				_, _ = m.memory.Add(ctx, name, h, preferRetain, false)
			}
			return h, true
		}
	}
	return nil, false
}

// Lookup implements derive.Master: a plain probe, with no fall-through to
// derivation on a miss.
func (m *Master) Lookup(ctx context.Context, name string) (*artifact.Handle, bool) {
	return m.Get(ctx, name)
}

// BaseImage implements derive.Master.
func (m *Master) BaseImage(ctx context.Context, baseName string) (*artifact.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.baseImages[baseName]
	return h, ok
}

// Insert implements derive.Master: places a freshly derived artifact per
// cache policy (spec §4.4 step 5, delegating to Add).
func (m *Master) Insert(ctx context.Context, name string, h *artifact.Handle) error {
	n, err := imagename.Parse(name)
	if err != nil {
		return err
	}
	preferRetain := imagename.ShouldRetainByPolicy(n)
	mustRetain := imagename.IsPermanentByPolicy(n)
	_, err = m.Add(ctx, name, h, preferRetain, mustRetain)
	return err
}

// GetAsDefined parses rendered, returning a cached hit or delegating to
// the Derivation Engine on a miss (spec §4.5).
func (m *Master) GetAsDefined(ctx context.Context, rendered string) (*artifact.Handle, error) {
	n, err := imagename.Parse(rendered)
	if err != nil {
		return nil, m.recordError(err)
	}
	h, err := m.engine.GetAsDefined(ctx, n)
	if err != nil {
		return nil, m.recordError(err)
	}
	return h, nil
}

// Add tries memory, then local-file, then remote-cache, in that order,
// moving on only when a tier rejects the artifact as oversize; any other
// memory or local-file error is returned as is. Any error from
// remote-cache, the final tier tried, including an oversize rejection,
// makes Add fail with ErrCapacityExceeded.
func (m *Master) Add(ctx context.Context, name string, h *artifact.Handle, preferRetain, mustRetain bool) (*artifact.Handle, error) {
	for _, t := range []*cachetier.Tier{m.memory, m.localFile, m.remoteCache} {
		got, err := t.Add(ctx, name, h, preferRetain, mustRetain)
		if err == nil {
			m.registerIfBase(name, got)
			return got, nil
		}
		if t == m.remoteCache {
			return nil, m.recordError(fmt.Errorf("%w: %s", ErrCapacityExceeded, name))
		}
		if !isOversize(err) {
			return nil, m.recordError(err)
		}
	}
	return nil, m.recordError(fmt.Errorf("%w: %s", ErrCapacityExceeded, name))
}

func isOversize(err error) bool {
	return errors.Is(err, cachetier.ErrOversizeRejected)
}

func (m *Master) registerIfBase(name string, h *artifact.Handle) {
	n, err := imagename.Parse(name)
	if err != nil || !n.IsBase() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.baseImages[n.BaseName()]; !ok {
		m.baseImages[n.BaseName()] = h
	}
}

// ListBaseImages returns the base names of every original whose base name
// matches both the optional path prefix and the optional anchored regular
// expression.
func (m *Master) ListBaseImages(pathPrefix, pattern string) ([]string, error) {
	var re *regexp.Regexp
	if pattern != "" {
		compiled, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, m.recordError(fmt.Errorf("%w: %s", ErrBadQuery, err))
		}
		re = compiled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for base := range m.baseImages {
		if pathPrefix != "" && !strings.HasPrefix(base, pathPrefix) {
			continue
		}
		if re != nil && !re.MatchString(base) {
			continue
		}
		out = append(out, base)
	}
	return out, nil
}

// ContainsOriginal reports whether baseName has a registered original,
// satisfying the HTTP collaborator's contains_original surface (spec §6).
func (m *Master) ContainsOriginal(baseName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.baseImages[baseName]
	return ok
}

// persistentTargetFor returns the tier an artifact must land in to be
// persistent: remote-store for bases and original()-tagged names,
// remote-cache for everything else.
func (m *Master) persistentTargetFor(n imagename.Name) (*cachetier.Tier, string) {
	if n.IsBase() || n.IsOriginal() {
		return m.remoteStore, m.remoteStoreContainer
	}
	return m.remoteCache, m.remoteCacheContainer
}

// MakePersistent forces name into its correct persistent tier. Idempotent.
func (m *Master) MakePersistent(ctx context.Context, name string) error {
	n, err := imagename.Parse(name)
	if err != nil {
		return m.recordError(err)
	}
	h, ok := m.Get(ctx, name)
	if !ok {
		return m.recordError(fmt.Errorf("%w: %s", ErrNotFound, name))
	}
	if h.HasPersistence() {
		return nil
	}
	target, _ := m.persistentTargetFor(n)
	preferRetain := imagename.ShouldRetainByPolicy(n)
	mustRetain := n.IsBase() || n.IsOriginal()
	if _, err := target.Add(ctx, name, h, preferRetain, mustRetain); err != nil {
		return m.recordError(fmt.Errorf("%w: %s: %s", ErrNotPersistable, name, err))
	}
	return nil
}

// URL ensures name is persistent, extends its retain_until to cover the
// configured URL lifetime plus slack, publishes that expiry as remote
// metadata, and returns a signed URL (spec §4.5).
func (m *Master) URL(ctx context.Context, name string) (string, error) {
	n, err := imagename.Parse(name)
	if err != nil {
		return "", m.recordError(err)
	}
	if err := m.MakePersistent(ctx, name); err != nil {
		return "", err
	}
	target, container := m.persistentTargetFor(n)

	// Only extend retain_until when the current value would not already
	// cover this call's minimum requirement; the slack margin is what
	// lets a second call soon after the first find it already covered,
	// so a burst of short-lived URL requests does not keep re-publishing
	// the lifetime metadata (spec §4.5).
	now := time.Now()
	minRequired := now.Add(m.urlLifetime)
	current := target.RetainUntil(name)
	if current.IsZero() || current.Before(minRequired) {
		until := now.Add(m.urlLifetime + m.urlLifetimeSlack)
		if err := target.SetRetainUntil(ctx, name, until); err != nil {
			return "", m.recordError(fmt.Errorf("repo: url %s: set retain_until: %w", name, err))
		}
	}

	signed, err := m.store.SignURL(ctx, container, name, m.urlMethod, m.urlLifetime, m.urlKey)
	if err != nil {
		return "", m.recordError(fmt.Errorf("repo: url %s: sign: %w", name, err))
	}
	return signed, nil
}

// Shutdown flushes the memory tier and then the local-file tier down to
// their successors (spec §4.5: "Remote tiers are not modified").
func (m *Master) Shutdown(ctx context.Context) error {
	if err := m.memory.FlushAll(ctx); err != nil {
		return fmt.Errorf("repo: shutdown: flush memory: %w", err)
	}
	if err := m.localFile.FlushAll(ctx); err != nil {
		return fmt.Errorf("repo: shutdown: flush local-file: %w", err)
	}
	return m.localFileMedium.Close()
}
