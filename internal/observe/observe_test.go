package observe

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/events"
	"github.com/mattjoyce/commcore/internal/executors"
	"github.com/mattjoyce/commcore/internal/journal"
	"github.com/mattjoyce/commcore/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Append(e journal.Entry) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return true
}

func newSink(t *testing.T) (*Sink, *events.Hub, *memJournal) {
	t.Helper()
	hub := events.NewHub(16)
	j := &memJournal{}
	s := New(hub, j)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(10 * time.Millisecond)
		return clock
	}
	s.SetBindings([]executors.Binding{{Name: "motor.move", Object: 1, Action: 2, Slot: 4, Sync: true}})
	return s, hub, j
}

func decode(t *testing.T, ev events.Event) InstructionEvent {
	t.Helper()
	var out InstructionEvent
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

func TestDispatchThenDone(t *testing.T) {
	s, hub, j := newSink(t)
	inst := comm.Instruction{Object: 1, Action: 2, Para1: 7, ParaNum: 1}

	cb := s.Callbacks()
	cb.Instruction.OnInstruction(inst)
	cb.Done.OnDone(inst)

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 2)
	assert.Equal(t, events.TypeDispatched, snap[0].Type)
	assert.Equal(t, events.TypeCompleted, snap[1].Type)

	ev := decode(t, snap[1])
	assert.Equal(t, 4, ev.Slot)
	assert.Equal(t, "motor.move", ev.Command)
	assert.Equal(t, uint32(7), ev.Para1)
	assert.Empty(t, ev.Error)

	require.Len(t, j.entries, 1)
	e := j.entries[0]
	assert.Equal(t, journal.OutcomeCompleted, e.Outcome)
	assert.Equal(t, "motor.move", e.Command)
	assert.Equal(t, 4, e.Slot)
	require.NotNil(t, e.DispatchedAt)
	assert.Equal(t, 10*time.Millisecond, e.Duration())

	assert.Equal(t, Stats{Dispatched: 1, Completed: 1}, s.Stats())
}

func TestErrorOutcomes(t *testing.T) {
	s, hub, j := newSink(t)
	unbound := comm.Instruction{Object: 9, Action: 9}

	s.OnError(comm.Instruction{Object: 1, Action: 2}, 5)
	s.OnError(unbound, comm.TimeoutCode)
	s.OnError(unbound, comm.PanicCode)

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, events.TypeFailed, snap[0].Type)
	assert.Equal(t, events.TypeTimedOut, snap[1].Type)
	assert.Equal(t, events.TypeFailed, snap[2].Type)

	assert.Equal(t, "handler error", decode(t, snap[0]).Error)
	timedOut := decode(t, snap[1])
	assert.Equal(t, "timeout", timedOut.Error)
	assert.Equal(t, -1, timedOut.Slot)
	assert.Equal(t, "handler panic", decode(t, snap[2]).Error)

	require.Len(t, j.entries, 3)
	assert.Equal(t, journal.OutcomeFailed, j.entries[0].Outcome)
	assert.Equal(t, journal.OutcomeTimedOut, j.entries[1].Outcome)
	assert.Nil(t, j.entries[1].DispatchedAt)

	assert.Equal(t, Stats{Failed: 2, TimedOut: 1}, s.Stats())
}

func TestNilSinks(t *testing.T) {
	s := New(nil, nil)
	inst := comm.Instruction{Object: 1, Action: 1}
	assert.NotPanics(t, func() {
		s.OnInstruction(inst)
		s.OnDone(inst)
		s.OnError(inst, 1)
	})
}

func TestCommandName(t *testing.T) {
	s, _, _ := newSink(t)

	name, ok := s.CommandName(1, 2)
	assert.True(t, ok)
	assert.Equal(t, "motor.move", name)

	_, ok = s.CommandName(2, 1)
	assert.False(t, ok)
}
