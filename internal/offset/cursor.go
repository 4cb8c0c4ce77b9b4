package offset

import (
	"fmt"

	"github.com/SteelMorgan/mc-bridge/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	bucketName = "offsets"
)

// Cursor is the persisted byte offset into one remote log.
// Loaded and persisted at poll-cycle boundaries, mutated only inside a cycle.
type Cursor struct {
	source string
	offset uint64
	dirty  bool
}

// Load reads the cursor for source. A missing record yields offset 0.
func Load(db *store.DB, source string) (*Cursor, error) {
	offset, _, err := db.Uint64(bucketName, source)
	if err != nil {
		return nil, fmt.Errorf("failed to get offset: %w", err)
	}

	return &Cursor{source: source, offset: offset}, nil
}

// Offset returns the current byte offset
func (c *Cursor) Offset() uint64 {
	return c.offset
}

// Reconcile checks the cursor against the current file size.
// A file smaller than the stored offset is a new log generation: the cursor
// resets to 0 and Reconcile reports true.
func (c *Cursor) Reconcile(size uint64) bool {
	if size >= c.offset {
		return false
	}

	log.Info().
		Str("source", c.source).
		Uint64("saved_offset", c.offset).
		Uint64("file_size", size).
		Msg("Log file shrank, treating as rotation")

	c.offset = 0
	c.dirty = true
	return true
}

// Advance moves the cursor to the position reached by a scan
func (c *Cursor) Advance(to uint64) {
	if to != c.offset {
		c.offset = to
		c.dirty = true
	}
}

// Persist writes the cursor inside tx when it changed
func (c *Cursor) Persist(tx *store.Tx) error {
	if !c.dirty {
		return nil
	}

	if err := tx.PutUint64(bucketName, c.source, c.offset); err != nil {
		return fmt.Errorf("failed to set offset: %w", err)
	}

	log.Debug().
		Str("source", c.source).
		Uint64("offset", c.offset).
		Msg("Offset updated")

	c.dirty = false
	return nil
}
