// Package cleaner applies the optional pattern-based filename cleanup
// after a successful tag.
package cleaner

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mkvwatch/mkvtagd/internal/state"
)

// ErrTargetExists is returned when the cleaned name collides with an
// existing file. The collision is non-fatal: the file stays tagged
// under its original name.
var ErrTargetExists = errors.New("rename target already exists")

// Cleaner strips every match of a case-insensitive pattern from a
// file's base name and renames the file accordingly.
type Cleaner struct {
	re     *regexp.Regexp
	logger *log.Logger
}

// New compiles the cleanup pattern. An empty pattern yields a no-op
// cleaner; an invalid pattern is a configuration error.
func New(pattern string, logger *log.Logger) (*Cleaner, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Cleaner{logger: logger}
	if pattern == "" {
		return c, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup pattern %q: %w", pattern, err)
	}
	c.re = re
	return c, nil
}

// Enabled reports whether a cleanup pattern is configured.
func (c *Cleaner) Enabled() bool {
	return c.re != nil
}

// CleanName returns the base name with all pattern matches removed.
// Without a pattern, or when nothing matches, the name is returned
// unchanged.
func (c *Cleaner) CleanName(name string) string {
	if c.re == nil {
		return name
	}
	cleaned := c.re.ReplaceAllString(name, "")
	if cleaned == "" {
		// Refuse to rename a file into nothing.
		return name
	}
	return cleaned
}

// Clean renames f on disk to its cleaned name and moves the store entry
// to the new key. Both happen together: if the target name already
// exists the rename is not attempted and ErrTargetExists is returned,
// leaving the entry untouched under its original key.
func (c *Cleaner) Clean(store *state.Store, f *state.WatchedFile) error {
	if c.re == nil {
		return nil
	}

	dir := filepath.Dir(f.Path)
	name := filepath.Base(f.Path)
	cleaned := c.CleanName(name)
	if cleaned == name {
		return nil
	}

	newPath := filepath.Join(dir, cleaned)
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("%w: %s", ErrTargetExists, newPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot check rename target %s: %w", newPath, err)
	}

	if err := os.Rename(f.Path, newPath); err != nil {
		return fmt.Errorf("failed to rename %s: %w", f.Path, err)
	}

	c.logger.Printf("Renamed %s -> %s", name, cleaned)
	return store.Rename(f.Path, newPath)
}
