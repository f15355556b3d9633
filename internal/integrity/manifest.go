// Package integrity detects tampering with the engine and its governing
// documents: a self-check of the engine entry point, a sweep of every file in
// the integrity manifest, a check that protected files were not changed
// outside the manifest, and the phase binding of roadmap and manifest hashes.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/boshu2/phasegate/internal/storage"
	"github.com/boshu2/phasegate/internal/worker"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// Manifest maps repository-relative paths to sha256 hex digests.
type Manifest struct {
	Version    int               `json:"version"`
	Entrypoint string            `json:"entrypoint"`
	Files      map[string]string `json:"files"`
}

// Sentinel errors for the integrity package.
var (
	// ErrNoEntrypoint is returned when a manifest names no entry point.
	ErrNoEntrypoint = errors.New("manifest has no entrypoint")

	// ErrManifestMissing is returned when the manifest file does not exist.
	ErrManifestMissing = errors.New("integrity manifest not found")
)

// LoadManifest reads the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := storage.ReadJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return nil, err
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return &m, nil
}

// Save writes the manifest canonically and atomically.
func (m *Manifest) Save(path string) error {
	return storage.WriteJSON(path, m)
}

// Paths returns the manifest paths in sorted order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for p := range m.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HashFile returns the sha256 hex digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only file
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Generate hashes files (repository-relative) under root and returns a
// manifest. The entry point is always included.
func Generate(ctx context.Context, root, entrypoint string, files []string, concurrency int) (*Manifest, error) {
	if entrypoint == "" {
		return nil, ErrNoEntrypoint
	}
	set := map[string]bool{filepath.ToSlash(entrypoint): true}
	for _, f := range files {
		set[filepath.ToSlash(f)] = true
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	m := &Manifest{Version: ManifestVersion, Entrypoint: filepath.ToSlash(entrypoint), Files: make(map[string]string, len(paths))}
	pool := worker.NewPool[string](concurrency)
	for _, r := range pool.Process(ctx, paths, hashUnder(root)) {
		if r.Err != nil {
			return nil, fmt.Errorf("hash %s: %w", r.Item, r.Err)
		}
		m.Files[r.Item] = r.Value
	}
	return m, nil
}

func hashUnder(root string) func(context.Context, string) (string, error) {
	return func(_ context.Context, rel string) (string, error) {
		return HashFile(resolve(root, rel))
	}
}

func resolve(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}
