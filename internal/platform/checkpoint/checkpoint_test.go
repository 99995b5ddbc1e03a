package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	slots map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{slots: make(map[string][]byte)}
}

func (m *memStore) GetSetting(_ context.Context, key string, target interface{}) error {
	raw, ok := m.slots[key]
	if !ok {
		return nil
	}

	return json.Unmarshal(raw, target)
}

func (m *memStore) SaveSetting(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.slots[key] = raw

	return nil
}

func (m *memStore) DeleteSetting(_ context.Context, key string) error {
	delete(m.slots, key)

	return nil
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	cursor := NewCursor(newMemStore(), "sweep_cursor")

	pos, err := cursor.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, pos, "missing slot reads as start")

	require.NoError(t, cursor.Save(ctx, 300))

	pos, err = cursor.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 300, pos)

	require.NoError(t, cursor.Clear(ctx))

	pos, err = cursor.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, pos, "cleared slot reads as start")
}

func TestCursorResumesAfterInterrupt(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	// First invocation processes batches of 100 and dies after batch 2.
	first := NewCursor(store, "sweep_cursor")
	require.NoError(t, first.Save(ctx, 100))
	require.NoError(t, first.Save(ctx, 200))

	// Next invocation resumes at 200, never reprocessing batch 2.
	second := NewCursor(store, "sweep_cursor")
	pos, err := second.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, pos)
}
