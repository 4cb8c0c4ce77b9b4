// Package dedup keeps the persisted set of chat fingerprints already relayed
// during the current log generation.
package dedup

import (
	"fmt"

	"github.com/SteelMorgan/mc-bridge/internal/store"
)

const bucketPrefix = "seen:"

// Deduplicator is an in-memory view of the seen set plus the changes
// not yet written. No eviction: the set is cleared wholesale on rotation.
type Deduplicator struct {
	bucket  string
	seen    map[string]struct{}
	pending []string
	cleared bool
}

// Load reads the seen set for source. A missing set is empty.
func Load(db *store.DB, source string) (*Deduplicator, error) {
	bucket := bucketPrefix + source

	members, err := db.Members(bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to load seen set: %w", err)
	}

	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		seen[m] = struct{}{}
	}

	return &Deduplicator{bucket: bucket, seen: seen}, nil
}

// Seen reports whether fingerprint was already recorded
func (d *Deduplicator) Seen(fingerprint string) bool {
	_, ok := d.seen[fingerprint]
	return ok
}

// Mark records fingerprint and reports whether it was new
func (d *Deduplicator) Mark(fingerprint string) bool {
	if d.Seen(fingerprint) {
		return false
	}
	d.seen[fingerprint] = struct{}{}
	d.pending = append(d.pending, fingerprint)
	return true
}

// Clear forgets every fingerprint (new log generation)
func (d *Deduplicator) Clear() {
	d.seen = make(map[string]struct{})
	d.pending = nil
	d.cleared = true
}

// Len returns the number of fingerprints in the set
func (d *Deduplicator) Len() int {
	return len(d.seen)
}

// Persist writes the pending changes inside tx
func (d *Deduplicator) Persist(tx *store.Tx) error {
	if d.cleared {
		if err := tx.ClearBucket(d.bucket); err != nil {
			return err
		}
	}
	if len(d.pending) > 0 {
		if err := tx.AddMembers(d.bucket, d.pending...); err != nil {
			return err
		}
	}

	d.pending = nil
	d.cleared = false
	return nil
}
