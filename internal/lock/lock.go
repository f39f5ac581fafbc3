// Package lock implements the single-instance guard for a watched
// directory.
//
// The lock is a marker file inside the watched directory naming the
// owning process. Two watchers over the same directory would race each
// other's state file and double-invoke the tagging tool, so acquisition
// fails hard when a live owner exists. Staleness is decided purely by
// process liveness, never by marker age.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// MarkerName is the fixed name of the lock marker file inside the
// watched directory.
const MarkerName = ".mkvtag.pid"

// ErrAlreadyRunning is returned by Acquire when another live process
// holds the lock.
var ErrAlreadyRunning = errors.New("another mkvtag instance is already running")

// Marker is the on-disk lock record.
type Marker struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held instance lock. Release it on shutdown.
type Lock struct {
	path   string
	logger *log.Logger
}

// MarkerPath returns the lock marker path for the given directory.
func MarkerPath(dir string) string {
	return filepath.Join(dir, MarkerName)
}

// Acquire takes the instance lock for dir.
//
// If a marker exists and names a live process other than this one,
// Acquire fails with ErrAlreadyRunning. A marker naming a dead process,
// or one that cannot be parsed, is treated as stale and reclaimed.
func Acquire(dir string, logger *log.Logger) (*Lock, error) {
	if logger == nil {
		logger = log.Default()
	}
	path := MarkerPath(dir)

	if marker, err := read(path); err == nil {
		if marker.PID != os.Getpid() && processAlive(marker.PID) {
			return nil, fmt.Errorf("%w in %s (pid %d since %s)",
				ErrAlreadyRunning, dir, marker.PID,
				marker.AcquiredAt.Format(time.RFC3339))
		}
		logger.Printf("Reclaiming stale lock from pid %d", marker.PID)
	} else if !os.IsNotExist(err) {
		logger.Printf("Reclaiming unreadable lock marker: %v", err)
	}

	marker := Marker{PID: os.Getpid(), AcquiredAt: time.Now()}
	data, err := json.Marshal(marker)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock marker: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write lock marker: %w", err)
	}

	return &Lock{path: path, logger: logger}, nil
}

// Release removes the marker unconditionally. Safe to call once on
// graceful shutdown.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock marker: %w", err)
	}
	return nil
}

// Path returns the marker file path.
func (l *Lock) Path() string {
	return l.path
}

// read parses the marker file at path.
func read(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return Marker{}, fmt.Errorf("failed to parse lock marker %s: %w", path, err)
	}
	if marker.PID <= 0 {
		return Marker{}, fmt.Errorf("lock marker %s has no pid", path)
	}
	return marker, nil
}
