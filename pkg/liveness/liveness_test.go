package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-relay/relay-go/pkg/persistence"
)

func TestTrackerMarksAndPersists(t *testing.T) {
	store := persistence.NewMemoryStore()
	now := time.UnixMilli(1760000000000)
	tr := New(store, WithClock(func() time.Time { return now }))

	snap := tr.Snapshot()
	assert.True(t, snap.LastMessage.IsZero())
	assert.True(t, snap.LastConnection.IsZero())

	tr.MarkConnected()
	now = now.Add(time.Second)
	tr.MarkMessageReceived()
	assert.Equal(t, int64(1), tr.IncForceReset())
	assert.Equal(t, int64(1), tr.IncDeepReset())
	assert.Equal(t, int64(2), tr.IncDeepReset())

	reloaded := New(store).Snapshot()
	assert.True(t, reloaded.LastMessage.Equal(now))
	assert.True(t, reloaded.LastConnection.Equal(now.Add(-time.Second)))
	assert.Equal(t, int64(1), reloaded.ForceResetCount)
	assert.Equal(t, int64(2), reloaded.DeepResetCount)
}

func TestTrackerLastWriteWins(t *testing.T) {
	store := persistence.NewMemoryStore()
	base := time.UnixMilli(1760000000000)
	now := base
	tr := New(store, WithClock(func() time.Time { return now }))

	tr.MarkMessageReceived()
	now = base.Add(-time.Hour) // clock went backwards
	tr.MarkMessageReceived()

	assert.True(t, tr.LastMessage().Equal(base.Add(-time.Hour)))
}

func TestClearTimestampsKeepsCounters(t *testing.T) {
	store := persistence.NewMemoryStore()
	tr := New(store)

	tr.MarkMessageReceived()
	tr.MarkConnected()
	tr.IncForceReset()
	tr.ClearTimestamps()

	assert.True(t, tr.LastMessage().IsZero())
	assert.True(t, tr.LastConnection().IsZero())
	assert.Equal(t, int64(1), tr.Snapshot().ForceResetCount)

	_, err := store.Load(KeyLastNotification)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	assert.True(t, New(store).LastMessage().IsZero())
}

func TestTrackerSurvivesFailingStore(t *testing.T) {
	store := persistence.NewMemoryStore()
	store.FailWrites = true
	tr := New(store)

	require.NotPanics(t, func() {
		tr.MarkMessageReceived()
		tr.IncDeepReset()
		tr.ClearTimestamps()
	})
	assert.Equal(t, int64(1), tr.Snapshot().DeepResetCount)
}

func TestNilStoreIsMemoryOnly(t *testing.T) {
	tr := New(nil)
	tr.MarkConnected()
	assert.False(t, tr.LastConnection().IsZero())
}
