// Package registry persists the ledger of synthesized capabilities.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

// FileName is the registry document inside the tools directory.
const FileName = "tool_registry.json"

var (
	// ErrRegistryCorrupt is returned when the registry document is not valid JSON.
	ErrRegistryCorrupt = errors.New("registry corrupt")
	// ErrRegistryMissing is returned when no registry document exists yet.
	ErrRegistryMissing = errors.New("registry missing")
)

// Entry locates one capability on disk.
type Entry struct {
	Directory string              `json:"directory"`
	Metadata  capability.Metadata `json:"metadata"`
}

// Document is the on-disk form of the registry.
type Document struct {
	Tools       map[string]Entry `json:"tools"`
	LastUpdated string           `json:"last_updated"`
}

type config struct {
	clock    func() time.Time
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// Option configures a Registry.
type Option func(*config)

// WithClock overrides the time source used for last_updated.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithFilePermissions sets the permissions of the registry file.
func WithFilePermissions(perm os.FileMode) Option {
	return func(c *config) {
		c.filePerm = perm
	}
}

// Registry is a single JSON document mapping capability names to directories and metadata.
// Writes replace the whole document atomically; concurrent processes are last-writer-wins.
type Registry struct {
	dir    string
	config config
	mu     sync.Mutex
}

// New creates a registry rooted at the tools directory.
func New(dir string, opts ...Option) *Registry {
	cfg := config{
		clock:    time.Now,
		filePerm: 0o644,
		dirPerm:  0o755,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{dir: dir, config: cfg}
}

// Dir returns the tools directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns the registry document path.
func (r *Registry) Path() string {
	return filepath.Join(r.dir, FileName)
}

// Load reads all entries. It fails with ErrRegistryMissing or ErrRegistryCorrupt.
func (r *Registry) Load() (map[string]Entry, error) {
	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	return doc.Tools, nil
}

// Get returns a single entry.
func (r *Registry) Get(name string) (Entry, bool, error) {
	entries, err := r.Load()
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := entries[name]
	return entry, ok, nil
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() ([]string, error) {
	entries, err := r.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Record merges or overwrites the entry for name and persists the whole document.
// A corrupt document is never overwritten.
func (r *Registry) Record(name, directory string, metadata capability.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	switch {
	case errors.Is(err, ErrRegistryMissing):
		doc = &Document{}
	case err != nil:
		return fmt.Errorf("failed to record %s: %w", name, err)
	}
	if doc.Tools == nil {
		doc.Tools = make(map[string]Entry)
	}

	doc.Tools[name] = Entry{Directory: directory, Metadata: metadata}
	doc.LastUpdated = r.config.clock().UTC().Format(time.RFC3339Nano)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(r.dir, r.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create tools directory: %w", err)
	}
	if err := WriteFileAtomic(r.Path(), append(data, '\n'), r.config.filePerm); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

func (r *Registry) read() (*Document, error) {
	data, err := os.ReadFile(r.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRegistryMissing, r.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRegistryCorrupt, r.Path(), err)
	}
	if doc.Tools == nil {
		doc.Tools = make(map[string]Entry)
	}
	return &doc, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory and renames
// it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
