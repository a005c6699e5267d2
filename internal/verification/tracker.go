package verification

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker holds the most recent verification per Key. A later record for
// the same key replaces the earlier one; Reset clears everything.
type Tracker struct {
	mu      sync.RWMutex
	records map[Key]Record
	now     func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: map[Key]Record{}, now: time.Now}
}

// Record stores a verdict for key, replacing any previous one.
func (t *Tracker) Record(key Key, passed bool, gaps []string) Record {
	rec := Record{
		ID:         uuid.New(),
		Key:        key,
		Passed:     passed,
		Gaps:       append([]string(nil), gaps...),
		VerifiedAt: t.now(),
	}
	t.Put(rec)
	return rec
}

// RecordVerdict stores an oracle verdict for key.
func (t *Tracker) RecordVerdict(key Key, v Verdict) Record {
	rec := Record{
		ID:         uuid.New(),
		Key:        key,
		Passed:     v.Passed,
		Gaps:       append([]string(nil), v.Gaps...),
		Malformed:  v.Malformed,
		VerifiedAt: t.now(),
	}
	t.Put(rec)
	return rec
}

// Put stores rec as the latest verdict for rec.Key.
func (t *Tracker) Put(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.Key] = rec
}

// Lookup returns the latest verdict for key.
func (t *Tracker) Lookup(key Key) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[key]
	return rec, ok
}

// HasPassing reports whether a passing verdict exists for exactly
// (scope, id).
func (t *Tracker) HasPassing(scope Scope, id string) bool {
	rec, ok := t.Lookup(Key{Scope: scope, ID: id})
	return ok && rec.Passed
}

// Reset clears all verdicts. The loop calls it at the start of every agent
// invocation so a stale pass cannot satisfy a later claim.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = map[Key]Record{}
}

// Len returns the number of stored verdicts.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Snapshot returns all verdicts ordered by scope then id.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Scope != out[j].Key.Scope {
			return out[i].Key.Scope < out[j].Key.Scope
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out
}
