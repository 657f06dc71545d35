package cachetier

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adelaide-ecoinformatics/image-repository/internal/storedb"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/artifact"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imagename"
	"github.com/adelaide-ecoinformatics/image-repository/pkg/imaging"
)

const retainLedgerFile = ".retain.db"

// LocalFileMedium is the Medium for the on-disk cache directory: one file
// per artifact, named by URL-quoting its canonical Name, plus a small
// sqlite ledger recording retain_until expiries so they survive a
// restart (filesystem metadata alone can't carry that).
//
// Grounded on other_examples/a4de19c9_iprodev-favicon-fetcher's cache
// directory layout and atomic-write discipline; the retain ledger reuses
// internal/storedb, adapted from the teacher's pkg/image/db.go.
type LocalFileMedium struct {
	dir     string
	backend imaging.Backend
	db      *sql.DB
}

// NewLocalFileMedium opens (and if necessary creates or wipes) the cache
// directory at dir. The directory must be owner-only (rwx------); any
// group/other bits on an existing directory are fatal.
func NewLocalFileMedium(dir string, backend imaging.Backend, initialise bool) (*LocalFileMedium, error) {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cachetier: create cache dir %s: %w", dir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %s", ErrInsecureCacheDir, dir, err)
	default:
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInsecureCacheDir, dir)
		}
		if info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s has group/other permission bits (%o)", ErrInsecureCacheDir, dir, info.Mode().Perm())
		}
	}

	db, err := storedb.Open(storedb.OpenOptions{
		Path:   filepath.Join(dir, retainLedgerFile),
		Module: "cachetier",
		Migrations: []storedb.Migration{
			{Version: 1, Name: "create retain table", SQL: `CREATE TABLE retain (name TEXT PRIMARY KEY, retain_until INTEGER NOT NULL)`},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cachetier: open retain ledger: %w", err)
	}

	m := &LocalFileMedium{dir: dir, backend: backend, db: db}
	if initialise {
		if err := m.Wipe(context.Background()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *LocalFileMedium) pathFor(name string) string {
	return filepath.Join(m.dir, imagename.SafeFileName(name))
}

func (m *LocalFileMedium) StoreBytes(ctx context.Context, name string, h *artifact.Handle) error {
	_, err := h.AsLocalFile(ctx, m.dir)
	return err
}

func (m *LocalFileMedium) RemoveBytes(ctx context.Context, name string) error {
	if err := os.Remove(m.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cachetier: remove %s: %w", name, err)
	}
	_, err := m.db.ExecContext(ctx, `DELETE FROM retain WHERE name = ?`, name)
	return err
}

func (m *LocalFileMedium) SetRetainUntil(ctx context.Context, name string, until time.Time) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO retain(name, retain_until) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET retain_until = excluded.retain_until`,
		name, until.Unix())
	return err
}

func (m *LocalFileMedium) retainUntil(ctx context.Context, name string) time.Time {
	var unix int64
	row := m.db.QueryRowContext(ctx, `SELECT retain_until FROM retain WHERE name = ?`, name)
	if err := row.Scan(&unix); err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Scan rebuilds the index from the files already on disk, computing size
// from filesystem metadata only (no decode), and deriving prefer_retain/
// must_retain from name policy (spec §4.3).
func (m *LocalFileMedium) Scan(ctx context.Context) ([]ScanResult, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("cachetier: scan %s: %w", m.dir, err)
	}

	var out []ScanResult
	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		rendered, err := imagename.UnsafeFileName(de.Name())
		if err != nil {
			continue
		}
		n, err := imagename.Parse(rendered)
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		h := artifact.FromLocalFile(m.backend, filepath.Join(m.dir, de.Name()), n.Format(), info.Size())
		h.SetNameHint(rendered)
		out = append(out, ScanResult{
			Name:         rendered,
			Handle:       h,
			Size:         info.Size(),
			PreferRetain: imagename.ShouldRetainByPolicy(n),
			MustRetain:   imagename.IsPermanentByPolicy(n),
			RetainUntil:  m.retainUntil(ctx, rendered),
		})
	}
	return out, nil
}

// Wipe removes every cached file (leaving the retain ledger's schema in
// place but empty), re-entering from an empty state.
func (m *LocalFileMedium) Wipe(ctx context.Context) error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("cachetier: wipe %s: %w", m.dir, err)
	}
	for _, de := range entries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, de.Name())); err != nil {
			return fmt.Errorf("cachetier: wipe %s: remove %s: %w", m.dir, de.Name(), err)
		}
	}
	_, err = m.db.ExecContext(ctx, `DELETE FROM retain`)
	return err
}

// Close releases the retain ledger's database handle.
func (m *LocalFileMedium) Close() error { return m.db.Close() }
