package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/five82/tether/internal/storage"
)

// ErrDeleted is wrapped in a *storage.Error when a write targets a generation
// that has been deleted.
var ErrDeleted = errors.New("cache generation deleted")

// Manager owns the named cache generations under one root directory.
type Manager struct {
	root string

	mu   sync.Mutex
	gens map[string]*Generation
}

// New returns a Manager storing generations under root.
func New(root string) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("cache root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, storage.Wrap("cache init", err)
	}
	return &Manager{root: filepath.Clean(root), gens: make(map[string]*Generation)}, nil
}

// Root returns the directory holding the generations.
func (m *Manager) Root() string { return m.root }

// Open returns the named generation, creating it if absent. Calling Open
// twice with the same name returns the same generation.
func (m *Manager) Open(name string) (*Generation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("open cache: generation name is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gens[name]; ok {
		return g, nil
	}
	dir := filepath.Join(m.root, url.PathEscape(name))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, storage.Wrap("cache open", err)
	}
	g := &Generation{name: name, dir: dir}
	m.gens[name] = g
	return g, nil
}

// Match looks key up in the named generations, in order, and returns the
// first hit. Names that do not exist on disk are skipped without creating
// them.
func (m *Manager) Match(key Key, order ...string) (Entry, bool, error) {
	for _, name := range order {
		g, err := m.lookup(name)
		if err != nil {
			return Entry{}, false, err
		}
		if g == nil {
			continue
		}
		entry, ok, err := g.Match(key)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

func (m *Manager) lookup(name string) (*Generation, error) {
	m.mu.Lock()
	g, ok := m.gens[name]
	m.mu.Unlock()
	if ok {
		return g, nil
	}
	info, err := os.Stat(filepath.Join(m.root, url.PathEscape(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("cache match", err)
	}
	if !info.IsDir() {
		return nil, nil
	}
	return m.Open(name)
}

// DeleteGeneration removes the named generation and every entry in it.
// It reports whether the generation existed.
func (m *Manager) DeleteGeneration(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.root, url.PathEscape(name))
	g := m.gens[name]
	if g != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.deleted = true
		delete(m.gens, name)
	}

	_, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return g != nil, nil
	}
	if err != nil {
		return false, storage.Wrap("cache delete", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return true, storage.Wrap("cache delete", err)
	}
	return true, nil
}

// Generations lists the names of every generation on disk, sorted.
func (m *Manager) Generations() ([]string, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return nil, storage.Wrap("cache list", err)
	}
	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		name, err := url.PathUnescape(d.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Generation is one named bucket of cached responses, stored as one JSON
// file per key.
type Generation struct {
	name string
	dir  string

	mu      sync.RWMutex
	deleted bool
}

// Name returns the generation name.
func (g *Generation) Name() string { return g.name }

// Put stores entry under key, replacing any earlier entry. Callers decide
// what is cacheable; Put stores whatever it is given.
func (g *Generation) Put(key Key, entry Entry) error {
	entry.Key = key
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleted {
		return storage.Wrap("cache put", ErrDeleted)
	}
	if err := atomic.WriteFile(filepath.Join(g.dir, key.filename()), bytes.NewReader(data)); err != nil {
		return storage.Wrap("cache put", err)
	}
	return nil
}

// Match returns the entry stored under key.
func (g *Generation) Match(key Key) (Entry, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.deleted {
		return Entry{}, false, nil
	}
	entry, err := readEntry(filepath.Join(g.dir, key.filename()))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if entry.Key != key {
		// sha256 collision or a hand-edited file; treat as a miss.
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Delete removes the entry stored under key and reports whether it existed.
func (g *Generation) Delete(key Key) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleted {
		return false, nil
	}
	err := os.Remove(filepath.Join(g.dir, key.filename()))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap("cache delete entry", err)
	}
	return true, nil
}

// Keys lists the keys stored in the generation, sorted by URL then method.
func (g *Generation) Keys() ([]Key, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.deleted {
		return nil, nil
	}
	dirents, err := os.ReadDir(g.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("cache keys", err)
	}
	var keys []Key
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}
		entry, err := readEntry(filepath.Join(g.dir, d.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].URL != keys[j].URL {
			return keys[i].URL < keys[j].URL
		}
		return keys[i].Method < keys[j].Method
	})
	return keys, nil
}

func readEntry(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, err
		}
		return Entry{}, storage.Wrap("cache read", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, storage.Wrap("cache read", fmt.Errorf("decode %s: %w", filepath.Base(path), err))
	}
	return entry, nil
}
