package state

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// SidecarName is the fixed name of the side-car status file inside the
// watched directory.
const SidecarName = ".mkvtag.json"

// Store is the complete mapping path -> WatchedFile for one watched
// directory.
//
// The store is exclusively owned by the watch loop: only the loop
// goroutine ever mutates it, so no locking is needed. Every mutating
// method persists the full mapping to the side-car file before
// returning (write-through), so a crash loses at most the in-flight
// sample, never a committed transition.
type Store struct {
	path   string // side-car file path
	files  map[string]*WatchedFile
	logger *log.Logger
}

// SidecarPath returns the side-car path for the given watched directory.
func SidecarPath(dir string) string {
	return filepath.Join(dir, SidecarName)
}

// Open loads the store for the given watched directory.
//
// A missing side-car yields an empty store. A corrupt or unreadable
// side-car also yields an empty store (full-rescan fallback) with a
// warning logged, rather than failing startup.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access watch directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	s := &Store{
		path:   SidecarPath(dir),
		files:  make(map[string]*WatchedFile),
		logger: logger,
	}

	files, err := Load(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		logger.Printf("Warning: resetting state store: %v", err)
		return s, nil
	}
	s.files = files
	return s, nil
}

// Load reads and parses a side-car file into a mapping.
//
// Unlike Open, Load reports corruption as an error; it is used by the
// status command and the dashboard, which must not silently show an
// empty table for a corrupt file.
func Load(path string) (map[string]*WatchedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	files := make(map[string]*WatchedFile)
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}

	for key, f := range files {
		if f == nil {
			return nil, fmt.Errorf("null entry for %s in state file %s", key, path)
		}
		if f.Path == "" {
			f.Path = key
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("invalid entry in state file %s: %w", path, err)
		}
	}
	return files, nil
}

// Path returns the side-car file path backing this store.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.files)
}

// Get returns the entry for path, if present.
func (s *Store) Get(path string) (*WatchedFile, bool) {
	f, ok := s.files[path]
	return f, ok
}

// Files returns all entries sorted by path. The deterministic order is
// what makes repeated runs over an unchanged directory behave
// identically.
func (s *Store) Files() []*WatchedFile {
	out := make([]*WatchedFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Put inserts or replaces the entry for f.Path and persists the store.
func (s *Store) Put(f *WatchedFile) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.files[f.Path] = f
	return s.persist()
}

// Rename moves the entry from oldPath to newPath and persists the
// store. The caller must have already renamed the file on disk.
func (s *Store) Rename(oldPath, newPath string) error {
	f, ok := s.files[oldPath]
	if !ok {
		return fmt.Errorf("no entry for %s", oldPath)
	}
	delete(s.files, oldPath)
	f.Path = newPath
	s.files[newPath] = f
	return s.persist()
}

// Prune removes entries whose path is no longer present in the watched
// directory and persists the store if anything was removed. The exists
// set holds the paths seen by the current scan.
func (s *Store) Prune(exists map[string]bool) error {
	removed := 0
	for path := range s.files {
		if !exists[path] {
			delete(s.files, path)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	s.logger.Printf("Pruned %d entries for removed files", removed)
	return s.persist()
}

// persist writes the full mapping to the side-car file. The write goes
// through a temp file and rename so a crash mid-write cannot leave a
// truncated side-car behind.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.files, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
