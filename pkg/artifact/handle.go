// Package artifact implements Handle, the lazy reference to artifact
// bytes that Tier entries and Derivation Engine results carry. A Handle
// may hold in-memory bytes, a local file path, a remote-store path, and a
// decoded image object simultaneously; at least one is present at all
// times, and bytes() prefers the cheapest reachable source.
//
// Grounded on the teacher's LayerRef/BuildResult (a reference that may
// carry only a path, materialized from cache on demand) and builder.go's
// clone-before-mutate step in its layer-apply loop.
package artifact

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imaging"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/objectstore"
)

// remoteRef is the remote half of a Handle's backing: enough to download
// on demand via the object store client.
type remoteRef struct {
	store     objectstore.Store
	container string
	name      string
}

// Handle is a lazy pointer to one artifact's bytes. The zero Handle is not
// valid; construct one with FromBytes, FromLocalFile, or FromRemote.
type Handle struct {
	mu sync.Mutex

	backend imaging.Backend

	memBytes []byte
	localPath string
	remote   *remoteRef
	decoded  imaging.Image

	format string
	size   int64

	// nameHint, when set, names the file AsLocalFile writes and the staging
	// file a remote download lands in, instead of a random UUID. Remote
	// object names come from AsPersistent's name argument.
	nameHint string
}

// FromBytes constructs a Handle already holding its bytes in memory.
func FromBytes(backend imaging.Backend, data []byte, format string) *Handle {
	return &Handle{backend: backend, memBytes: data, format: format, size: int64(len(data))}
}

// FromLocalFile constructs a Handle backed by an existing file on disk.
func FromLocalFile(backend imaging.Backend, path, format string, size int64) *Handle {
	return &Handle{backend: backend, localPath: path, format: format, size: size}
}

// FromRemote constructs a Handle backed by an object already present in
// the remote store.
func FromRemote(backend imaging.Backend, store objectstore.Store, container, name, format string, size int64) *Handle {
	return &Handle{
		backend: backend,
		remote:  &remoteRef{store: store, container: container, name: name},
		format:  format,
		size:    size,
	}
}

// SetNameHint records the canonical name this Handle is stored under, used
// to build readable local-file and staging-file names. The first non-empty
// hint wins; later calls are ignored.
func (h *Handle) SetNameHint(hint string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.nameHint == "" {
		h.nameHint = hint
	}
}

// Format returns the image format the artifact is currently encoded as.
func (h *Handle) Format() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format
}

// Size returns the byte size of the artifact if known, else 0.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// HasPersistence reports whether a remote-store path is recorded.
func (h *Handle) HasPersistence() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remote != nil
}

// RemoteName returns the remote object name and container if persisted, or
// ("", "", false) otherwise.
func (h *Handle) RemoteName() (container, name string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.remote == nil {
		return "", "", false
	}
	return h.remote.container, h.remote.name, true
}

// Bytes materializes and returns the artifact's bytes, searching in-memory
// bytes, then local file, then the remote store.
func (h *Handle) Bytes(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytesLocked(ctx)
}

func (h *Handle) bytesLocked(ctx context.Context) ([]byte, error) {
	if h.memBytes != nil {
		return h.memBytes, nil
	}
	if h.localPath != "" {
		data, err := os.ReadFile(h.localPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %s", ErrIo, h.localPath, err)
		}
		h.memBytes = data
		h.size = int64(len(data))
		return data, nil
	}
	if h.remote != nil {
		dir, err := os.MkdirTemp("", "artifact-stage-*")
		if err != nil {
			return nil, fmt.Errorf("%w: stage directory: %s", ErrIo, err)
		}
		defer os.RemoveAll(dir)
		staged := filepath.Join(dir, h.stagingName())
		if err := h.remote.store.Get(ctx, h.remote.container, h.remote.name, staged); err != nil {
			return nil, fmt.Errorf("%w: download %s/%s: %s", ErrIo, h.remote.container, h.remote.name, err)
		}
		data, err := os.ReadFile(staged)
		if err != nil {
			return nil, fmt.Errorf("%w: read staged %s: %s", ErrIo, staged, err)
		}
		h.memBytes = data
		h.size = int64(len(data))
		return data, nil
	}
	if h.decoded != nil {
		data, err := h.backend.Encode(h.decoded, h.format)
		if err != nil {
			return nil, fmt.Errorf("%w: encode from decoded image: %s", ErrDecoder, err)
		}
		h.memBytes = data
		h.size = int64(len(data))
		return data, nil
	}
	return nil, fmt.Errorf("%w: no reachable source", ErrIo)
}

func (h *Handle) stagingName() string {
	if h.nameHint != "" {
		return imagename.SafeFileName(h.nameHint)
	}
	return uuid.NewString()
}

// AsLocalFile ensures a file copy of the artifact exists under dir, named
// after the Handle's name hint if one was set or a fresh UUID otherwise,
// and returns its path. Idempotent once a local path has been recorded.
func (h *Handle) AsLocalFile(ctx context.Context, dir string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.localPath != "" {
		return h.localPath, nil
	}
	data, err := h.bytesLocked(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create %s: %s", ErrIo, dir, err)
	}
	target := filepath.Join(dir, h.stagingName())
	if err := atomicWriteFile(target, data); err != nil {
		return "", fmt.Errorf("%w: write %s: %s", ErrIo, target, err)
	}
	h.localPath = target
	return target, nil
}

// AsPersistent ensures the artifact exists in the remote store under name,
// and records the remote path. A no-op if a remote path is already known.
func (h *Handle) AsPersistent(ctx context.Context, store objectstore.Store, container, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.remote != nil {
		return nil
	}
	data, err := h.bytesLocked(ctx)
	if err != nil {
		return err
	}
	contentType := mimeForFormat(h.format)
	if err := store.Put(ctx, container, name, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("%w: upload %s/%s: %s", ErrIo, container, name, err)
	}
	h.remote = &remoteRef{store: store, container: container, name: name}
	return nil
}

// Md5 materializes the artifact and returns the hex-encoded MD5 of its
// bytes.
func (h *Handle) Md5(ctx context.Context) (string, error) {
	data, err := h.Bytes(ctx)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a new Handle sharing no mutable state with h, used before
// a destructive derivation step.
func (h *Handle) Clone() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := &Handle{backend: h.backend, format: h.format, size: h.size, localPath: h.localPath, remote: h.remote}
	if h.memBytes != nil {
		out.memBytes = append([]byte(nil), h.memBytes...)
	}
	if h.decoded != nil {
		out.decoded = h.backend.Clone(h.decoded)
	}
	return out
}

func (h *Handle) decodedLocked(ctx context.Context) (imaging.Image, error) {
	if h.decoded != nil {
		return h.decoded, nil
	}
	data, err := h.bytesLocked(ctx)
	if err != nil {
		return nil, err
	}
	img, err := h.backend.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecoder, err)
	}
	h.decoded = img
	return img, nil
}

// Weaken drops the strong hold on the decoded image object, if any. A
// subsequent read materializes again from any surviving backing source.
func (h *Handle) Weaken() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.memBytes != nil || h.localPath != "" || h.remote != nil {
		h.decoded = nil
	}
}

// Convert returns a new Handle with the reformatted bytes. If format
// equals the current format, Convert returns h unchanged.
func (h *Handle) Convert(ctx context.Context, format string) (*Handle, error) {
	h.mu.Lock()
	cur := h.format
	h.mu.Unlock()
	if format == cur {
		return h, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	img, err := h.decodedLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &Handle{backend: h.backend, decoded: h.backend.Clone(img), format: format}, nil
}

// Crop returns a new Handle cropped to a w*h box anchored at (x,y).
func (h *Handle) Crop(ctx context.Context, w, h2, x, y int) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	img, err := h.decodedLocked(ctx)
	if err != nil {
		return nil, err
	}
	cropped, err := h.backend.Crop(img, w, h2, x, y)
	if err != nil {
		return nil, fmt.Errorf("%w: crop: %s", ErrDecoder, err)
	}
	return &Handle{backend: h.backend, decoded: cropped, format: h.format}, nil
}

// Resize returns a new Handle resized to w*h.
func (h *Handle) Resize(ctx context.Context, w, ht int) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	img, err := h.decodedLocked(ctx)
	if err != nil {
		return nil, err
	}
	resized, err := h.backend.Resize(img, w, ht)
	if err != nil {
		return nil, fmt.Errorf("%w: resize: %s", ErrDecoder, err)
	}
	return &Handle{backend: h.backend, decoded: resized, format: h.format}, nil
}

// ThumbnailPolicy carries the knobs ApplyThumbnail needs that live outside
// the Name (spec §6's "Thumbnail policy" configuration group).
type ThumbnailPolicy struct {
	LiquidCutinRatio float64
}

// Thumbnail returns a new Handle fit within a w*h box, preserving aspect
// ratio. When flags.Liquid is set and the source aspect ratio exceeds
// policy.LiquidCutinRatio in either dimension, the effective aspect ratio
// is clamped and a liquid rescale applied instead of a plain resize,
// falling back to resize if the backend has no such algorithm. Equalise
// and sharpen flags apply histogram equalisation and an unsharp mask
// respectively after the resize.
func (h *Handle) Thumbnail(ctx context.Context, w, ht int, flags imagename.ThumbnailFlags, policy ThumbnailPolicy) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	img, err := h.decodedLocked(ctx)
	if err != nil {
		return nil, err
	}

	liquid := false
	if flags.Liquid && policy.LiquidCutinRatio > 0 && img.Width() > 0 && img.Height() > 0 {
		ratio := float64(img.Width()) / float64(img.Height())
		liquid = ratio > policy.LiquidCutinRatio || ratio < 1/policy.LiquidCutinRatio
	}
	tw, thgt := fitBox(img.Width(), img.Height(), w, ht, liquid, policy.LiquidCutinRatio)

	var out imaging.Image
	if liquid {
		out, err = h.backend.LiquidRescale(img, tw, thgt)
		if err != nil {
			out, err = h.backend.Resize(img, tw, thgt)
		}
	} else {
		out, err = h.backend.Resize(img, tw, thgt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: thumbnail resize: %s", ErrDecoder, err)
	}

	if flags.Equalise {
		if eq, err := h.backend.Equalize(out); err == nil {
			out = eq
		}
	}
	if flags.Sharpen {
		if sh, err := h.backend.UnsharpMask(out); err == nil {
			out = sh
		}
	}

	return &Handle{backend: h.backend, decoded: out, format: h.format}, nil
}

// Metadata decodes the artifact and returns its embedded key/value
// metadata via the pixel back end (spec §4.4's metadata() derivation op).
func (h *Handle) Metadata(ctx context.Context) (imaging.Metadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	img, err := h.decodedLocked(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := h.backend.ExtractMetadata(img)
	if err != nil {
		return nil, fmt.Errorf("%w: extract metadata: %s", ErrDecoder, err)
	}
	return meta, nil
}

// fitBox computes the target box that fits within maxW*maxH preserving
// aspect ratio. When liquid is set and the source aspect ratio exceeds
// cutinRatio, the effective ratio used for the fit calculation is clamped
// to cutinRatio, leaving the content-aware rescale to make up the
// difference.
func fitBox(srcW, srcH, maxW, maxH int, liquid bool, cutinRatio float64) (int, int) {
	if srcW <= 0 || srcH <= 0 || maxW <= 0 || maxH <= 0 {
		return maxW, maxH
	}
	ratio := float64(srcW) / float64(srcH)
	if liquid && cutinRatio > 0 {
		if ratio > cutinRatio {
			ratio = cutinRatio
		} else if ratio < 1/cutinRatio {
			ratio = 1 / cutinRatio
		}
	}
	targetRatio := float64(maxW) / float64(maxH)
	if ratio > targetRatio {
		return maxW, int(float64(maxW) / ratio)
	}
	return int(float64(maxH) * ratio), maxH
}
