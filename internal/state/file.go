// Package state provides the persisted processing state for watched media
// files.
//
// Every file ever seen in the watched directory gets a WatchedFile entry.
// Entries live in a Store that is written through to a JSON side-car file
// in the watched directory after every mutation, so an external inspection
// of the side-car always reflects the last committed transition and a
// restart resumes each file from where it left off.
package state

import (
	"fmt"
	"time"
)

// FileState is the processing state of a watched file.
type FileState string

const (
	// StatePending indicates the file was sighted but not yet sampled.
	StatePending FileState = "pending"

	// StateStabilizing indicates the file is being sampled for stability.
	StateStabilizing FileState = "stabilizing"

	// StateTagging indicates a tagging attempt is in flight.
	StateTagging FileState = "tagging"

	// StateTagged indicates the file was tagged successfully. Terminal.
	StateTagged FileState = "tagged"

	// StateFailed indicates tagging failed permanently or the retry
	// budget was exhausted. Terminal.
	StateFailed FileState = "failed"

	// StateSkipped indicates the precheck found existing statistics
	// tags and tagging was not attempted. Terminal.
	StateSkipped FileState = "skipped"
)

// Valid reports whether s is a known file state.
func (s FileState) Valid() bool {
	switch s {
	case StatePending, StateStabilizing, StateTagging,
		StateTagged, StateFailed, StateSkipped:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state. Terminal files are
// never re-entered into the pipeline while their path and size on disk
// remain unchanged.
func (s FileState) Terminal() bool {
	return s == StateTagged || s == StateFailed || s == StateSkipped
}

// WatchedFile is one entry per file path ever observed in the watched
// directory.
type WatchedFile struct {
	// Path is the absolute path of the file and the store key.
	Path string `json:"path"`

	// Size and ModifiedAt are the last observed filesystem metadata.
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`

	// State is the file's position in the tagging state machine.
	State FileState `json:"state"`

	// StableSince is the time of the first sample at which size and
	// mtime matched the previous sample, or nil.
	StableSince *time.Time `json:"stable_since,omitempty"`

	// Attempts counts tagging attempts made so far.
	Attempts int `json:"attempts"`

	// LastError describes the most recent failure, if any.
	LastError string `json:"last_error,omitempty"`

	// TaggedAt is the time of successful tagging, or nil.
	TaggedAt *time.Time `json:"tagged_at,omitempty"`
}

// Validate checks that the entry is well formed.
func (f *WatchedFile) Validate() error {
	if f.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !f.State.Valid() {
		return fmt.Errorf("unknown state %q for %s", f.State, f.Path)
	}
	if f.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative (got %d)", f.Attempts)
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (f *WatchedFile) Clone() *WatchedFile {
	c := *f
	if f.StableSince != nil {
		t := *f.StableSince
		c.StableSince = &t
	}
	if f.TaggedAt != nil {
		t := *f.TaggedAt
		c.TaggedAt = &t
	}
	return &c
}
