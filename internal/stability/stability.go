// Package stability decides when a watched file has stopped changing.
//
// A file is considered stable once its size and modification time have
// been unchanged for at least one full polling interval. A single
// unchanged sample is necessary but not sufficient: an encoder can be
// paused between two polls, so the tracker requires a full interval of
// silence before declaring the file ready, trading one extra poll cycle
// of latency for not racing a writer.
package stability

import (
	"time"

	"github.com/mkvwatch/mkvtagd/internal/state"
)

// Tracker applies the two-sample stability rule.
type Tracker struct {
	interval time.Duration
}

// New creates a Tracker for the given polling interval.
func New(interval time.Duration) *Tracker {
	return &Tracker{interval: interval}
}

// Interval returns the configured polling interval.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Observe records the current (size, modifiedAt) sample on f and reports
// whether the file is ready for tagging.
//
// If the sample differs from the previous one, the stability clock is
// reset and the new sample recorded. If the sample matches and this is
// the first match, StableSince is set to now. The file is ready only
// when a matching sample arrives at least one full interval after
// StableSince was set.
func (t *Tracker) Observe(f *state.WatchedFile, size int64, modifiedAt, now time.Time) bool {
	if size != f.Size || !modifiedAt.Equal(f.ModifiedAt) {
		f.Size = size
		f.ModifiedAt = modifiedAt
		f.StableSince = nil
		return false
	}

	if f.StableSince == nil {
		stable := now
		f.StableSince = &stable
		return false
	}

	return now.Sub(*f.StableSince) >= t.interval
}
