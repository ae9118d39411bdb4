package groups

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesGroup(t *testing.T) {
	tracker := NewTracker()

	result := tracker.Upsert(3, []int{3, 4, 5}, "musicassistant", "grp-3-1", SourceManual)
	require.True(t, result.Changed)

	group, ok := tracker.GetByLeader(3)
	require.True(t, ok)
	require.Equal(t, "grp-3-1", group.ExternalID)
	require.ElementsMatch(t, []int{3, 4, 5}, group.Members)
}

func TestUpsertIsIdempotentOnSameState(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert(3, []int{3, 4}, "sonos", "grp-3-1", SourceManual)

	// Same members in different order, same ids: no change.
	result := tracker.Upsert(3, []int{4, 3}, "sonos", "grp-3-1", SourceManual)
	require.False(t, result.Changed)

	result = tracker.Upsert(3, []int{3, 4, 5}, "sonos", "grp-3-1", SourceManual)
	require.True(t, result.Changed)
}

func TestMemberBelongsToAtMostOneGroup(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert(1, []int{1, 2, 3}, "sonos", "grp-1-1", SourceManual)
	tracker.Upsert(5, []int{5, 3}, "sonos", "grp-5-1", SourceManual)

	// Zone 3 moved to the new group.
	group, ok := tracker.GetByZone(3)
	require.True(t, ok)
	require.Equal(t, 5, group.Leader)

	first, ok := tracker.GetByLeader(1)
	require.True(t, ok)
	require.ElementsMatch(t, []int{1, 2}, first.Members)
}

func TestStealingLeaderDissolvesPriorGroup(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert(1, []int{1, 2}, "sonos", "grp-1-1", SourceManual)
	tracker.Upsert(7, []int{7, 1}, "sonos", "grp-7-1", SourceManual)

	// Group led by 1 lost its leader and collapses.
	_, ok := tracker.GetByLeader(1)
	require.False(t, ok)
	group, ok := tracker.GetByZone(2)
	require.False(t, ok, "zone 2 should be ungrouped, got %+v", group)
}

func TestRemoveByLeader(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert(4, []int{4, 6}, "beolink", "grp-4-1", SourceBackend)

	removed, ok := tracker.RemoveByLeader(4)
	require.True(t, ok)
	require.Equal(t, "grp-4-1", removed.ExternalID)

	_, ok = tracker.GetByZone(6)
	require.False(t, ok)
	_, ok = tracker.RemoveByLeader(4)
	require.False(t, ok)
}

func TestGetByExternalID(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert(9, []int{9, 10}, "musicassistant", "grp-9-77", SourceManual)

	group, ok := tracker.GetByExternalID("grp-9-77")
	require.True(t, ok)
	require.Equal(t, 9, group.Leader)

	_, ok = tracker.GetByExternalID("missing")
	require.False(t, ok)
}

func TestLeaderAlwaysInMembers(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert(2, []int{8, 9}, "sonos", "grp-2-1", SourceManual)

	group, _ := tracker.GetByLeader(2)
	require.True(t, group.ContainsMember(2))
	require.ElementsMatch(t, []int{2, 8, 9}, group.Members)
}
