package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements Store over a Google Cloud Storage bucket per
// container. The "container" argument on every method is the bucket name;
// credentials are resolved the normal client-library way (ADC or an
// explicit key file passed via NewGCSStore's options).
type GCSStore struct {
	client *storage.Client
}

// GCSOptions configures NewGCSStore. CredentialsFile may be empty to use
// application default credentials.
type GCSOptions struct {
	CredentialsFile string
}

// NewGCSStore dials a GCS client. The returned Store must be closed by the
// caller via Close when the process shuts down.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: dial gcs: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the underlying client's connections.
func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) List(ctx context.Context, container string) ([]ObjectInfo, error) {
	bucket := s.client.Bucket(container)
	it := bucket.Objects(ctx, nil)
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: list %s: %w", container, err)
		}
		out = append(out, attrsToInfo(attrs))
	}
	return out, nil
}

func (s *GCSStore) Get(ctx context.Context, container, name, destPath string) error {
	r, err := s.client.Bucket(container).Object(name).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("objectstore: open %s/%s: %w", container, name, err)
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("objectstore: download %s/%s: %w", container, name, err)
	}
	return f.Close()
}

func (s *GCSStore) Put(ctx context.Context, container, name string, data io.Reader, size int64, contentType string) error {
	w := s.client.Bucket(container).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("objectstore: upload %s/%s: %w", container, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore: finalize upload %s/%s: %w", container, name, err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, container string, names []string) error {
	bucket := s.client.Bucket(container)
	for _, name := range names {
		if err := bucket.Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("objectstore: delete %s/%s: %w", container, name, err)
		}
	}
	return nil
}

func (s *GCSStore) Stat(ctx context.Context, container string, names []string) ([]ObjectInfo, error) {
	bucket := s.client.Bucket(container)
	var out []ObjectInfo
	for _, name := range names {
		attrs, err := bucket.Object(name).Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: stat %s/%s: %w", container, name, err)
		}
		out = append(out, attrsToInfo(attrs))
	}
	return out, nil
}

func (s *GCSStore) PostMetadata(ctx context.Context, container, name string, metadata map[string]string) error {
	obj := s.client.Bucket(container).Object(name)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return fmt.Errorf("objectstore: read metadata %s/%s: %w", container, name, err)
	}
	merged := make(map[string]string, len(attrs.Metadata)+len(metadata))
	for k, v := range attrs.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	if _, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: merged}); err != nil {
		return fmt.Errorf("objectstore: update metadata %s/%s: %w", container, name, err)
	}
	return nil
}

func (s *GCSStore) SignURL(ctx context.Context, container, name string, method SignMethod, lifetime time.Duration, key string) (string, error) {
	opts := &storage.SignedURLOptions{
		GoogleAccessID: key,
		Method:         string(method),
		Expires:        time.Now().Add(lifetime),
		Scheme:         storage.SigningSchemeV4,
	}
	url, err := s.client.Bucket(container).SignedURL(name, opts)
	if err != nil {
		return "", fmt.Errorf("objectstore: sign url %s/%s: %w", container, name, err)
	}
	return url, nil
}

func attrsToInfo(attrs *storage.ObjectAttrs) ObjectInfo {
	return ObjectInfo{
		Name:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
	}
}
