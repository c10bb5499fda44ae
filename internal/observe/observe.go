// Package observe turns dispatcher callbacks into logs, hub events and
// journal entries.
package observe

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/events"
	"github.com/mattjoyce/commcore/internal/executors"
	"github.com/mattjoyce/commcore/internal/journal"
	"github.com/mattjoyce/commcore/internal/log"
)

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// JournalSink receives completed entries. Append must not block.
type JournalSink interface {
	Append(e journal.Entry) bool
}

// InstructionEvent is the payload of every instruction.* event.
type InstructionEvent struct {
	Slot    int    `json:"slot"`
	Command string `json:"command,omitempty"`
	Object  uint8  `json:"object"`
	Action  uint8  `json:"action"`
	Para1   uint32 `json:"para1"`
	Para2   uint32 `json:"para2"`
	ParaNum uint8  `json:"para_num"`
	Code    uint32 `json:"code"`
	Error   string `json:"error,omitempty"`
}

// Stats counts outcomes since start.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timed_out"`
}

type key [2]uint8

// Sink implements the three listener roles of comm.Callbacks.
type Sink struct {
	logger  *slog.Logger
	pub     Publisher
	journal JournalSink
	now     func() time.Time

	mu         sync.Mutex
	bindings   map[key]executors.Binding
	dispatched map[key]time.Time

	nDispatched, nCompleted, nFailed, nTimedOut atomic.Int64
}

// New creates a Sink. pub and j may be nil.
func New(pub Publisher, j JournalSink) *Sink {
	return &Sink{
		logger:     log.WithComponent("observe"),
		pub:        pub,
		journal:    j,
		now:        time.Now,
		bindings:   make(map[key]executors.Binding),
		dispatched: make(map[key]time.Time),
	}
}

// Callbacks returns the listener set for comm.New.
func (s *Sink) Callbacks() comm.Callbacks {
	return comm.Callbacks{Instruction: s, Done: s, Error: s}
}

// SetBindings supplies command names and slots once commands are registered.
func (s *Sink) SetBindings(bs []executors.Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bs {
		s.bindings[key{b.Object, b.Action}] = b
	}
}

// Stats returns the outcome counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Dispatched: s.nDispatched.Load(),
		Completed:  s.nCompleted.Load(),
		Failed:     s.nFailed.Load(),
		TimedOut:   s.nTimedOut.Load(),
	}
}

func (s *Sink) OnInstruction(inst comm.Instruction) {
	s.nDispatched.Add(1)

	s.mu.Lock()
	s.dispatched[key{inst.Object, inst.Action}] = s.now()
	b, ok := s.bindings[key{inst.Object, inst.Action}]
	s.mu.Unlock()

	ev := s.event(inst, b, ok, 0)
	s.logger.Debug("instruction dispatched", "slot", ev.Slot, "command", ev.Command, "instruction", inst.String())
	s.publish(events.TypeDispatched, ev)
}

func (s *Sink) OnDone(inst comm.Instruction) {
	s.nCompleted.Add(1)
	s.finish(inst, 0, journal.OutcomeCompleted, events.TypeCompleted)
}

func (s *Sink) OnError(inst comm.Instruction, code uint32) {
	switch code {
	case comm.TimeoutCode:
		s.nTimedOut.Add(1)
		s.finish(inst, code, journal.OutcomeTimedOut, events.TypeTimedOut)
	default:
		s.nFailed.Add(1)
		s.finish(inst, code, journal.OutcomeFailed, events.TypeFailed)
	}
}

func (s *Sink) finish(inst comm.Instruction, code uint32, outcome journal.Outcome, eventType string) {
	completed := s.now()

	s.mu.Lock()
	k := key{inst.Object, inst.Action}
	started, hasStart := s.dispatched[k]
	delete(s.dispatched, k)
	b, ok := s.bindings[k]
	s.mu.Unlock()

	ev := s.event(inst, b, ok, code)
	attrs := []any{"slot", ev.Slot, "command", ev.Command, "code", code, "instruction", inst.String()}
	if hasStart {
		attrs = append(attrs, "duration", completed.Sub(started))
	}
	switch outcome {
	case journal.OutcomeCompleted:
		s.logger.Info("instruction completed", attrs...)
	case journal.OutcomeTimedOut:
		s.logger.Warn("instruction timed out", attrs...)
	default:
		s.logger.Warn("instruction failed", attrs...)
	}
	s.publish(eventType, ev)

	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		Slot:        ev.Slot,
		Command:     ev.Command,
		Object:      inst.Object,
		Action:      inst.Action,
		Para1:       inst.Para1,
		Para2:       inst.Para2,
		ParaNum:     inst.ParaNum,
		Outcome:     outcome,
		Code:        code,
		CompletedAt: completed,
	}
	if hasStart {
		entry.DispatchedAt = &started
	}
	s.journal.Append(entry)
}

func (s *Sink) event(inst comm.Instruction, b executors.Binding, bound bool, code uint32) InstructionEvent {
	ev := InstructionEvent{
		Slot:    -1,
		Object:  inst.Object,
		Action:  inst.Action,
		Para1:   inst.Para1,
		Para2:   inst.Para2,
		ParaNum: inst.ParaNum,
		Code:    code,
	}
	if bound {
		ev.Slot = b.Slot
		ev.Command = b.Name
	}
	switch code {
	case 0:
	case comm.TimeoutCode:
		ev.Error = "timeout"
	case comm.PanicCode:
		ev.Error = "handler panic"
	default:
		ev.Error = "handler error"
	}
	return ev
}

func (s *Sink) publish(eventType string, ev InstructionEvent) {
	if s.pub != nil {
		s.pub.Publish(eventType, ev)
	}
}

// CommandName returns the configured name bound to (object, action).
func (s *Sink) CommandName(object, action uint8) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[key{object, action}]
	return b.Name, ok
}
