// Package revision tracks the identity and history of catalog snapshots.
// A Revision names one immutable state of a file; a Store keeps the
// append-only chain of deltas between revisions at the cloud location.
package revision

import (
	"time"
)

// Revision identifies one immutable state of a synced file. A new edit
// always produces a new Revision; revisions are never mutated.
type Revision struct {
	Fingerprint string    `json:"fingerprint"`
	Sequence    uint64    `json:"sequence"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// IsZero reports whether r has been set.
func (r Revision) IsZero() bool {
	return r.Fingerprint == ""
}

// Equal reports whether two revisions name the same contents. Identity is
// the fingerprint; sequence and timestamp are bookkeeping.
func (r Revision) Equal(other Revision) bool {
	return r.Fingerprint == other.Fingerprint
}

// Short returns the log-friendly prefix of the fingerprint.
func (r Revision) Short() string {
	if len(r.Fingerprint) > 12 {
		return r.Fingerprint[:12]
	}
	return r.Fingerprint
}
