// Package groups tracks dynamic synchronized-playback groups.
package groups

import "sync"

// Source records who created a group.
type Source string

const (
	SourceManual  Source = "manual"
	SourceBackend Source = "backend"
)

// Group is one dynamic playback group. Members always include the leader.
type Group struct {
	ExternalID string
	Leader     int
	Members    []int
	Backend    string
	Source     Source
}

// ContainsMember reports whether id is part of the group.
func (g Group) ContainsMember(id int) bool {
	for _, member := range g.Members {
		if member == id {
			return true
		}
	}
	return false
}

// Tracker is the in-memory group registry. A player belongs to at most one
// group at a time; upserting a group evicts its members from any other group.
type Tracker struct {
	mu     sync.Mutex
	groups map[int]Group // keyed by leader
}

func NewTracker() *Tracker {
	return &Tracker{groups: make(map[int]Group)}
}

// UpsertResult reports whether an upsert changed the tracked state.
type UpsertResult struct {
	Changed bool
}

// Upsert records a group, replacing any prior record for the leader and
// removing the members from any other group they belonged to. Changed is true
// whenever leader, member set, backend tag or external id differs from the
// prior record under the same leader.
func (t *Tracker) Upsert(leader int, members []int, backend, externalID string, source Source) UpsertResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	normalized := normalizeMembers(leader, members)
	next := Group{
		ExternalID: externalID,
		Leader:     leader,
		Members:    normalized,
		Backend:    backend,
		Source:     source,
	}

	prior, existed := t.groups[leader]
	changed := !existed || !sameGroup(prior, next)

	// Evict the new members from every other group.
	for otherLeader, other := range t.groups {
		if otherLeader == leader {
			continue
		}
		kept := other.Members[:0:0]
		for _, member := range other.Members {
			if !containsInt(normalized, member) {
				kept = append(kept, member)
			}
		}
		if len(kept) == len(other.Members) {
			continue
		}
		if !containsInt(kept, other.Leader) || len(kept) < 2 {
			delete(t.groups, otherLeader)
		} else {
			other.Members = kept
			t.groups[otherLeader] = other
		}
	}

	t.groups[leader] = next
	return UpsertResult{Changed: changed}
}

// RemoveByLeader deletes the group led by leader. Returns the removed group.
func (t *Tracker) RemoveByLeader(leader int) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	group, ok := t.groups[leader]
	if ok {
		delete(t.groups, leader)
	}
	return group, ok
}

// GetByExternalID finds a group by its external identifier.
func (t *Tracker) GetByExternalID(externalID string) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, group := range t.groups {
		if group.ExternalID == externalID {
			return group, true
		}
	}
	return Group{}, false
}

// GetByLeader finds a group by its leader.
func (t *Tracker) GetByLeader(leader int) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	group, ok := t.groups[leader]
	return group, ok
}

// GetByZone finds the group a player belongs to, leader or member.
func (t *Tracker) GetByZone(id int) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, group := range t.groups {
		if group.ContainsMember(id) {
			return group, true
		}
	}
	return Group{}, false
}

// All returns a snapshot of every tracked group.
func (t *Tracker) All() []Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]Group, 0, len(t.groups))
	for _, group := range t.groups {
		all = append(all, group)
	}
	return all
}

// normalizeMembers dedupes and guarantees the leader is present first.
func normalizeMembers(leader int, members []int) []int {
	out := []int{leader}
	for _, member := range members {
		if !containsInt(out, member) {
			out = append(out, member)
		}
	}
	return out
}

func sameGroup(a, b Group) bool {
	if a.Leader != b.Leader || a.Backend != b.Backend || a.ExternalID != b.ExternalID {
		return false
	}
	if len(a.Members) != len(b.Members) {
		return false
	}
	for _, member := range a.Members {
		if !containsInt(b.Members, member) {
			return false
		}
	}
	return true
}

func containsInt(values []int, v int) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
