package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_StartsScrapingWithTotal(t *testing.T) {
	store := NewStore(0)
	id := store.Create(5, false, nil)

	snap := store.Get(id)
	require.NotNil(t, snap)
	assert.Equal(t, StatusScraping, snap.Status)
	assert.Equal(t, 5, snap.Total)
	assert.False(t, snap.Completed)
	assert.Equal(t, 0, snap.SuccessCount+snap.FailedCount)
}

// Once a snapshot is completed it is never mutated again: a late progress
// update racing the completion call is dropped on the floor (P1).
func TestMutate_CompletedSnapshotIsFrozen(t *testing.T) {
	store := NewStore(0)
	id := store.Create(2, false, nil)

	store.Mutate(id, func(snap *Snapshot) { snap.SuccessCount = 2; snap.Current = 2 })
	store.Complete(id)

	store.Mutate(id, func(snap *Snapshot) {
		snap.Status = StatusScraping
		snap.Completed = false
		snap.SuccessCount = 0
	})

	snap := store.Get(id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.True(t, snap.Completed)
	assert.Equal(t, 2, snap.SuccessCount)
}

// success_count + failed_count equals total once a session completes (P2).
func TestCompletion_CountsSumToTotal(t *testing.T) {
	store := NewStore(0)
	id := store.Create(3, false, nil)

	store.Mutate(id, func(snap *Snapshot) { snap.SuccessCount++ })
	store.Mutate(id, func(snap *Snapshot) { snap.SuccessCount++ })
	store.Mutate(id, func(snap *Snapshot) { snap.FailedCount++ })
	store.Complete(id)

	snap := store.Get(id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, snap.Total, snap.SuccessCount+snap.FailedCount)
	assert.NotNil(t, snap.CompletedAt)
}

// Cancellation is surfaced as status "failed" with message "cancelled",
// and the cancel callback fires exactly once.
func TestCancel_FailsSessionAndInvokesCallbackOnce(t *testing.T) {
	store := NewStore(0)
	calls := 0
	id := store.Create(1, false, func() { calls++ })

	store.Cancel(id)
	store.Cancel(id)

	assert.Equal(t, 1, calls)
	snap := store.Get(id)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "cancelled", snap.Message)
	assert.True(t, snap.Completed)
}

func TestGet_UnknownSessionReturnsNil(t *testing.T) {
	store := NewStore(0)
	assert.Nil(t, store.Get("does-not-exist"))
}

// Get hands back copies, including of the slice-valued fields, so a poller
// holding a snapshot never sees the writer's next mutation.
func TestGet_ReturnsIndependentCopy(t *testing.T) {
	store := NewStore(0)
	id := store.Create(3, true, nil)

	store.Mutate(id, func(snap *Snapshot) {
		snap.AddProcessingItem("a")
		snap.AddProcessingItem("b")
	})

	before := store.Get(id)
	store.Mutate(id, func(snap *Snapshot) { snap.RemoveProcessingItem("a") })

	assert.Equal(t, []string{"a", "b"}, before.ProcessingItems)
	assert.Equal(t, []string{"b"}, store.Get(id).ProcessingItems)
}

func TestProcessingItems_InsertIsIdempotentAndOrdered(t *testing.T) {
	snap := &Snapshot{}
	snap.AddProcessingItem("x")
	snap.AddProcessingItem("y")
	snap.AddProcessingItem("x")

	assert.Equal(t, []string{"x", "y"}, snap.ProcessingItems)

	snap.RemoveProcessingItem("x")
	assert.Equal(t, []string{"y"}, snap.ProcessingItems)
}

// Per-site magnet progress keeps arrival order and updates in place.
func TestUpdateSite_OrderedUpsert(t *testing.T) {
	snap := &Snapshot{}
	snap.UpdateSite(SiteProgress{SiteName: "A", Status: "searching"})
	snap.UpdateSite(SiteProgress{SiteName: "B", Status: "skipped"})
	snap.UpdateSite(SiteProgress{SiteName: "A", Status: "completed", ResultCount: 3})

	require.Len(t, snap.Sites, 2)
	assert.Equal(t, "A", snap.Sites[0].SiteName)
	assert.Equal(t, "completed", snap.Sites[0].Status)
	assert.Equal(t, 3, snap.Sites[0].ResultCount)
	assert.Equal(t, "B", snap.Sites[1].SiteName)
}

func TestJanitor_EvictsOldCompletedSessionsOnly(t *testing.T) {
	store := NewStore(20 * time.Millisecond)
	defer store.Close()

	completedID := store.Create(1, false, nil)
	store.Complete(completedID)

	runningID := store.Create(1, false, nil)

	require.Eventually(t, func() bool {
		return store.Get(completedID) == nil
	}, time.Second, 5*time.Millisecond)

	assert.NotNil(t, store.Get(runningID))
}
