// Package checkpoint implements the resumable-cursor pattern used by sweeps
// whose backlog may outlive one execution window. The cursor is persisted in
// a durable key-value slot after every batch; the next invocation resumes
// where the previous one stopped and the slot is cleared only once the
// backlog is exhausted. Correctness requires the swept backlog to be ordered
// deterministically (by ID) across invocations.
package checkpoint

import (
	"context"
	"fmt"
)

// Store is a durable scalar key-value slot visible across invocations.
// Get must leave target untouched and return nil when the key is absent.
type Store interface {
	GetSetting(ctx context.Context, key string, target interface{}) error
	SaveSetting(ctx context.Context, key string, value interface{}) error
	DeleteSetting(ctx context.Context, key string) error
}

// Cursor is a resumable position in an ordered backlog.
type Cursor struct {
	store Store
	key   string
}

func NewCursor(store Store, key string) *Cursor {
	return &Cursor{store: store, key: key}
}

// Load returns the persisted position, or 0 when no checkpoint exists.
func (c *Cursor) Load(ctx context.Context) (int, error) {
	pos := 0
	if err := c.store.GetSetting(ctx, c.key, &pos); err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", c.key, err)
	}

	if pos < 0 {
		pos = 0
	}

	return pos, nil
}

// Save persists the position reached after a completed batch. A crash after
// Save means the next invocation skips the finished batch; a crash before
// Save means the batch is reprocessed, which upsert semantics make safe.
func (c *Cursor) Save(ctx context.Context, position int) error {
	if err := c.store.SaveSetting(ctx, c.key, position); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.key, err)
	}

	return nil
}

// Clear removes the slot once the backlog is exhausted so the next sweep
// starts from the beginning.
func (c *Cursor) Clear(ctx context.Context) error {
	if err := c.store.DeleteSetting(ctx, c.key); err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", c.key, err)
	}

	return nil
}
