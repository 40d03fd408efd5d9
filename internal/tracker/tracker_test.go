package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wootoff-monitor/internal/types"
)

func snap(title, price string, status types.Status) types.Snapshot {
	return types.Snapshot{Title: title, Price: price, Status: status, FetchedAt: time.Now()}
}

func TestFirstObservation(t *testing.T) {
	for _, s := range []types.Snapshot{
		snap("", "", types.StatusUnknown),
		snap("Widget A", "$5", types.StatusActive),
		snap("Widget A", "", types.StatusEnded),
	} {
		tr := New(false)
		_, ok := tr.Current()
		require.False(t, ok)

		change := tr.Update(s)
		assert.Equal(t, types.FirstObservation, change.Decision)
		assert.Nil(t, change.Previous)

		cur, ok := tr.Current()
		require.True(t, ok)
		assert.Equal(t, s.Title, cur.Title)
	}
}

func TestUnchangedKeyYieldsNoChange(t *testing.T) {
	tr := New(false)
	tr.Update(snap("Widget A", "$5", types.StatusActive))

	for i := 0; i < 5; i++ {
		change := tr.Update(snap("Widget A", "$5", types.StatusActive))
		assert.Equal(t, types.NoChange, change.Decision)
	}
}

func TestNewTitleYieldsNewItem(t *testing.T) {
	tr := New(false)
	tr.Update(snap("Widget A", "$5", types.StatusActive))

	change := tr.Update(snap("Widget B", "$5", types.StatusActive))
	assert.Equal(t, types.NewItem, change.Decision)
	require.NotNil(t, change.Previous)
	assert.Equal(t, "Widget A", change.Previous.Title)

	// title wins even when status changes too
	change = tr.Update(snap("Widget C", "$5", types.StatusSoldOut))
	assert.Equal(t, types.NewItem, change.Decision)
}

func TestStatusChange(t *testing.T) {
	tr := New(false)
	tr.Update(snap("Widget A", "$5", types.StatusActive))

	change := tr.Update(snap("Widget A", "$5", types.StatusSoldOut))
	assert.Equal(t, types.StatusChanged, change.Decision)
	assert.Equal(t, types.StatusActive, change.Previous.Status)
	assert.Equal(t, types.StatusSoldOut, change.Current.Status)
}

func TestPriceOnlyChange(t *testing.T) {
	tr := New(false)
	tr.Update(snap("Widget A", "$5", types.StatusActive))

	change := tr.Update(snap("Widget A", "$4", types.StatusActive))
	assert.Equal(t, types.NoChange, change.Decision)

	// NoChange keeps the stored snapshot
	cur, _ := tr.Current()
	assert.Equal(t, "$5", cur.Price)
}

func TestPriceChangeToggle(t *testing.T) {
	tr := New(true)
	tr.Update(snap("Widget A", "$5", types.StatusActive))

	change := tr.Update(snap("Widget A", "$4", types.StatusActive))
	assert.Equal(t, types.PriceChanged, change.Decision)

	cur, _ := tr.Current()
	assert.Equal(t, "$4", cur.Price)

	change = tr.Update(snap("Widget A", "$4", types.StatusActive))
	assert.Equal(t, types.NoChange, change.Decision)
}

func TestStoredSnapshotIsACopy(t *testing.T) {
	tr := New(false)
	s := snap("Widget A", "$5", types.StatusActive)
	change := tr.Update(s)

	change.Current.Title = "mutated"
	s.Title = "mutated too"

	cur, _ := tr.Current()
	assert.Equal(t, "Widget A", cur.Title)
}
