package swim

import (
	"math/rand"
	"sort"
	"time"
)

// State is a member's position in the Active -> Suspect -> Dead chain
// the member table tracks. There is no incarnation/refutation step back from
// Dead; rows are never removed, so a dead member stays Dead.
type State uint8

const (
	Active State = iota
	Suspect
	Dead
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Member is one row of the member table.
type Member struct {
	Endpoint Endpoint
	State    State

	// LastChange is the time of the most recent state transition.
	LastChange time.Time

	// SuspicionDeadline is non-zero only while State == Suspect; it is
	// the time at which, absent a refuting Ack, the member becomes Dead.
	SuspicionDeadline time.Time
}

// Table is the member table: keyed by Endpoint,
// excluding the local node's own endpoint, with no upper bound on size.
type Table struct {
	self    Endpoint
	members map[Endpoint]*Member
}

// NewTable returns an empty table for the given local endpoint.
func NewTable(self Endpoint) *Table {
	return &Table{self: self, members: make(map[Endpoint]*Member)}
}

// InsertOrObserve adds ep as a fresh Active member if unknown, or, if it
// is already known and currently Suspect, resolves it back to Active
// (contact of any kind refutes suspicion). It reports whether a new row
// was created. The local node's own endpoint is never inserted.
func (t *Table) InsertOrObserve(ep Endpoint, now time.Time) bool {
	if ep == t.self {
		return false
	}

	m, ok := t.members[ep]
	if !ok {
		t.members[ep] = &Member{Endpoint: ep, State: Active, LastChange: now}
		return true
	}

	if m.State == Suspect {
		m.State = Active
		m.SuspicionDeadline = time.Time{}
		m.LastChange = now
	}
	return false
}

// MarkAlive resolves ep back to Active, as InsertOrObserve does, but also
// accepts a previously-unknown endpoint by inserting it (an Ack can be
// the first contact we have from a member we started probing via a
// seed-provided address we never formally observed).
func (t *Table) MarkAlive(ep Endpoint, now time.Time) {
	if ep == t.self {
		return
	}

	m, ok := t.members[ep]
	if !ok {
		t.members[ep] = &Member{Endpoint: ep, State: Active, LastChange: now}
		return
	}

	if m.State == Suspect {
		m.State = Active
		m.SuspicionDeadline = time.Time{}
		m.LastChange = now
	}
}

// MarkSuspect transitions ep from Active to Suspect, stamping a
// suspicion deadline timeout in the future. It is a no-op for unknown
// endpoints or endpoints not currently Active.
func (t *Table) MarkSuspect(ep Endpoint, now time.Time, timeout time.Duration) {
	m, ok := t.members[ep]
	if !ok || m.State != Active {
		return
	}
	m.State = Suspect
	m.LastChange = now
	m.SuspicionDeadline = now.Add(timeout)
}

// MarkDead transitions ep from Suspect to Dead. It is a no-op unless ep
// is currently Suspect and its suspicion deadline has actually elapsed;
// callers are expected to check the deadline via the event loop's
// deadline heap before calling this, but the check is repeated here so a
// stale timer entry can never fire this transition early.
func (t *Table) MarkDead(ep Endpoint, now time.Time) {
	m, ok := t.members[ep]
	if !ok || m.State != Suspect {
		return
	}
	if now.Before(m.SuspicionDeadline) {
		return
	}
	m.State = Dead
	m.LastChange = now
	m.SuspicionDeadline = time.Time{}
}

// Get returns the member record for ep, if any.
func (t *Table) Get(ep Endpoint) (*Member, bool) {
	m, ok := t.members[ep]
	return m, ok
}

// Members returns every row, sorted by endpoint string for deterministic
// iteration (logging, tests).
func (t *Table) Members() []*Member {
	out := make([]*Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.String() < out[j].Endpoint.String() })
	return out
}

// CountByState reports how many members currently hold state s.
func (t *Table) CountByState(s State) int {
	n := 0
	for _, m := range t.members {
		if m.State == s {
			n++
		}
	}
	return n
}

// RandomLiveTargets returns up to k distinct endpoints drawn uniformly at
// random from Active and Suspect members, excluding anything in exclude.
// Dead members are never eligible. Candidates are first ordered
// deterministically (by endpoint string, sidestepping Go's randomized map
// iteration) and then partially Fisher-Yates shuffled using rng, so the
// result is reproducible given a seeded random source, in the spirit of
// shuffle_list.go's Shuffle().
func (t *Table) RandomLiveTargets(rng *rand.Rand, exclude map[Endpoint]bool, k int) []Endpoint {
	candidates := make([]Endpoint, 0, len(t.members))
	for ep, m := range t.members {
		if exclude[ep] {
			continue
		}
		if m.State == Active || m.State == Suspect {
			candidates = append(candidates, ep)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].String() < candidates[j].String() })

	n := len(candidates)
	if k > n {
		k = n
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:k]
}
