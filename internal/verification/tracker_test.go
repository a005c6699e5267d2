package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_LastWriteWins(t *testing.T) {
	tr := NewTracker()
	key := Key{Scope: ScopeTask, ID: "t1"}

	tr.Record(key, true, nil)
	assert.True(t, tr.HasPassing(ScopeTask, "t1"))

	tr.Record(key, false, []string{"tests missing"})
	assert.False(t, tr.HasPassing(ScopeTask, "t1"))

	rec, ok := tr.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, []string{"tests missing"}, rec.Gaps)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_ExactKeyOnly(t *testing.T) {
	tr := NewTracker()
	tr.Record(Key{Scope: ScopeTask, ID: "t1"}, true, nil)

	assert.False(t, tr.HasPassing(ScopeTask, "t2"))
	assert.False(t, tr.HasPassing(ScopeComponent, "t1"))
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker()
	tr.Record(Key{Scope: ScopeTask, ID: "t1"}, true, nil)
	tr.Record(Key{Scope: ScopeModule, ID: "m"}, true, nil)

	tr.Reset()
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.HasPassing(ScopeTask, "t1"))
}

func TestTracker_RecordVerdictAndSnapshot(t *testing.T) {
	tr := NewTracker()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.RecordVerdict(Key{Scope: ScopeTask, ID: "t2"}, Verdict{Passed: false, Gaps: []string{"bad"}, Malformed: true})
	tr.RecordVerdict(Key{Scope: ScopeTask, ID: "t1"}, Verdict{Passed: true})
	tr.RecordVerdict(Key{Scope: ScopeComponent, ID: "c1"}, Verdict{Passed: true})

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, Key{Scope: ScopeComponent, ID: "c1"}, snap[0].Key)
	assert.Equal(t, Key{Scope: ScopeTask, ID: "t1"}, snap[1].Key)
	assert.Equal(t, Key{Scope: ScopeTask, ID: "t2"}, snap[2].Key)
	assert.True(t, snap[2].Malformed)
	assert.Equal(t, fixed, snap[0].VerifiedAt)
	assert.NotEqual(t, snap[0].ID, snap[1].ID)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "task t1", Key{Scope: ScopeTask, ID: "t1"}.String())
	assert.True(t, ScopeModule.Valid())
	assert.False(t, Scope("subtask").Valid())
}
