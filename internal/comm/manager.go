package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/commcore/internal/log"
)

// Config sizes the registry and sets the task timings.
type Config struct {
	// Capacity is the number of slots, and the depth of both queues.
	Capacity int
	// PollInterval is the timeout monitor period.
	PollInterval time.Duration
	// SubmitLockTimeout bounds how long Submit waits for the registry lock.
	SubmitLockTimeout time.Duration
	// Tick is the length of one Clock tick.
	Tick time.Duration
	// Clock overrides the tick source. Defaults to NewClock(Tick).
	Clock Clock
}

// DefaultConfig returns the reference sizing.
func DefaultConfig() Config {
	return Config{
		Capacity:          32,
		PollInterval:      50 * time.Millisecond,
		SubmitLockTimeout: 10 * time.Millisecond,
		Tick:              time.Millisecond,
	}
}

// SlotInfo is a point-in-time copy of one registered slot.
type SlotInfo struct {
	Index        int         `json:"index"`
	Object       uint8       `json:"object"`
	Action       uint8       `json:"action"`
	Sync         bool        `json:"sync"`
	TimeoutTicks uint32      `json:"timeout_ticks"`
	State        State       `json:"state"`
	Instruction  Instruction `json:"instruction"`
	ElapsedTicks uint32      `json:"elapsed_ticks,omitempty"`
	Executions   uint64      `json:"executions"`
}

// Manager owns the registry, the two queues and the three tasks.
type Manager struct {
	cfg    Config
	cb     Callbacks
	clock  Clock
	logger *slog.Logger

	mu      *semaphore.Weighted
	reg     *registry
	execQ   chan int
	resultQ chan int
	started atomic.Bool
}

// New creates a Manager. Zero fields in cfg take DefaultConfig values.
func New(cfg Config, cb Callbacks) *Manager {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SubmitLockTimeout <= 0 {
		cfg.SubmitLockTimeout = def.SubmitLockTimeout
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewClock(cfg.Tick)
	}

	return &Manager{
		cfg:     cfg,
		cb:      cb.withDefaults(),
		clock:   clock,
		logger:  log.WithComponent("comm"),
		mu:      semaphore.NewWeighted(1),
		reg:     newRegistry(cfg.Capacity),
		execQ:   make(chan int, cfg.Capacity),
		resultQ: make(chan int, cfg.Capacity),
	}
}

// Start runs the dispatch, result and timeout tasks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	m.logger.Info("comm manager started",
		"capacity", m.reg.capacity(),
		"registered", m.Registered(),
		"poll_interval", m.cfg.PollInterval,
	)
	defer m.logger.Info("comm manager stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.resultLoop(gctx) })
	g.Go(func() error { return m.dispatchLoop(gctx) })
	g.Go(func() error { return m.timeoutLoop(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Manager) lock(ctx context.Context) error {
	return m.mu.Acquire(ctx, 1)
}

func (m *Manager) tryLock() bool {
	return m.mu.TryAcquire(1)
}

func (m *Manager) unlock() {
	m.mu.Release(1)
}

// Register binds (object, action) to h and returns the new slot index.
// A zero timeout means 10ms; NoTimeout disables the timeout. The timeout only
// applies to async commands.
func (m *Manager) Register(object, action uint8, h Handler, sync bool, timeout time.Duration) (int, error) {
	if h == nil {
		return -1, ErrInvalidHandler
	}
	_ = m.lock(context.Background())
	defer m.unlock()

	if i := m.reg.find(object, action); i >= 0 {
		return -1, fmt.Errorf("obj %d action %d at slot %d: %w", object, action, i, ErrAlreadyRegistered)
	}
	idx := m.reg.findFree()
	if idx < 0 {
		return -1, ErrRegistryFull
	}

	m.reg.slots[idx] = slot{
		handler: h,
		sync:    sync,
		timeout: durationToTicks(timeout, m.cfg.Tick),
		inst:    Instruction{Object: object, Action: action},
		state:   StateCompleted,
	}
	m.reg.mark(idx)

	m.logger.Info("command registered",
		"slot", idx,
		"object", object,
		"action", action,
		"sync", sync,
		"timeout_ticks", m.reg.slots[idx].timeout,
	)
	return idx, nil
}

// FindSlot returns the slot index bound to (object, action).
func (m *Manager) FindSlot(object, action uint8) (int, error) {
	_ = m.lock(context.Background())
	defer m.unlock()
	if i := m.reg.find(object, action); i >= 0 {
		return i, nil
	}
	return -1, ErrNotFound
}

// Submit admits inst for execution and returns its slot index. The wait for
// the registry lock is bounded by SubmitLockTimeout and ctx. On ErrBusy the
// returned index names the busy slot.
func (m *Manager) Submit(ctx context.Context, inst Instruction) (int, error) {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.SubmitLockTimeout)
	defer cancel()
	if err := m.lock(lctx); err != nil {
		return -1, fmt.Errorf("acquire registry lock: %w", ErrUnavailable)
	}
	defer m.unlock()
	return m.admitLocked(inst)
}

// TrySubmit is Submit for contexts that must never block. It fails with
// ErrUnavailable if the lock is held or the execute queue is full.
func (m *Manager) TrySubmit(inst Instruction) (int, error) {
	if !m.tryLock() {
		return -1, fmt.Errorf("registry lock held: %w", ErrUnavailable)
	}
	defer m.unlock()
	return m.admitLocked(inst)
}

func (m *Manager) admitLocked(inst Instruction) (int, error) {
	idx := m.reg.find(inst.Object, inst.Action)
	if idx < 0 {
		return -1, ErrNotRegistered
	}
	s := &m.reg.slots[idx]
	if !s.state.Idle() {
		return idx, fmt.Errorf("slot %d is %s: %w", idx, s.state, ErrBusy)
	}

	prev := s.inst
	s.inst = inst
	s.state = StateWaiting
	select {
	case m.execQ <- idx:
		return idx, nil
	default:
		s.inst = prev
		s.state = StateCompleted
		return -1, fmt.Errorf("execute queue full: %w", ErrUnavailable)
	}
}

// NotifyDone reports the completion of an async command. It is ignored
// unless the slot is executing asynchronously and not yet reported.
func (m *Manager) NotifyDone(ctx context.Context, index int, code uint32) error {
	if index < 0 || index >= m.reg.capacity() {
		return ErrInvalidSlot
	}
	if err := m.lock(ctx); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer m.unlock()
	m.notifyLocked(index, code)
	return nil
}

// Execution returns the dispatch count of a slot. Called from a handler, it
// identifies the run being handled, for use with NotifyExecutionDone.
func (m *Manager) Execution(ctx context.Context, index int) (uint64, error) {
	if index < 0 || index >= m.reg.capacity() {
		return 0, ErrInvalidSlot
	}
	if err := m.lock(ctx); err != nil {
		return 0, fmt.Errorf("acquire registry lock: %w", err)
	}
	defer m.unlock()
	return m.reg.slots[index].exec, nil
}

// NotifyExecutionDone is NotifyDone restricted to run exec of the slot. A
// notice for an earlier run is ignored even if the slot is executing again.
func (m *Manager) NotifyExecutionDone(ctx context.Context, index int, exec uint64, code uint32) error {
	if index < 0 || index >= m.reg.capacity() {
		return ErrInvalidSlot
	}
	if err := m.lock(ctx); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer m.unlock()
	if s := &m.reg.slots[index]; s.exec != exec {
		m.logger.Debug("ignoring stale completion notice", "slot", index, "exec", exec, "current", s.exec)
		return nil
	}
	m.notifyLocked(index, code)
	return nil
}

// TryNotifyDone is NotifyDone for contexts that must never block.
func (m *Manager) TryNotifyDone(index int, code uint32) error {
	if index < 0 || index >= m.reg.capacity() {
		return ErrInvalidSlot
	}
	if !m.tryLock() {
		return fmt.Errorf("registry lock held: %w", ErrUnavailable)
	}
	defer m.unlock()
	m.notifyLocked(index, code)
	return nil
}

func (m *Manager) notifyLocked(index int, code uint32) {
	s := &m.reg.slots[index]
	if !m.reg.registered(index) || s.state != StateExecutingAsync || s.reported {
		m.logger.Debug("ignoring completion notice", "slot", index, "state", s.state, "reported", s.reported)
		return
	}
	s.result = code
	m.reportLocked(index)
}

// reportLocked claims the slot's completion and queues it for the result
// task. The queue holds at most one entry per slot, so the send only fails if
// that invariant is broken.
func (m *Manager) reportLocked(index int) {
	s := &m.reg.slots[index]
	s.reported = true
	select {
	case m.resultQ <- index:
	default:
		s.reported = false
		m.logger.Error("result queue full, dropping completion",
			"slot", index,
			"state", s.state,
			"result", s.result,
		)
		if s.state != StateExecutingAsync {
			s.result = 0
			s.state = StateCompleted
		}
	}
}

// Capacity returns the number of slots.
func (m *Manager) Capacity() int { return m.reg.capacity() }

// Registered returns the number of registered slots.
func (m *Manager) Registered() int {
	_ = m.lock(context.Background())
	defer m.unlock()
	return m.reg.count()
}

// InFlight returns the number of registered slots that are not idle.
func (m *Manager) InFlight() int {
	_ = m.lock(context.Background())
	defer m.unlock()
	n := 0
	for i := range m.reg.slots {
		if m.reg.registered(i) && !m.reg.slots[i].state.Idle() {
			n++
		}
	}
	return n
}

// Slots returns a copy of every registered slot, in index order.
func (m *Manager) Slots() []SlotInfo {
	_ = m.lock(context.Background())
	defer m.unlock()

	now := m.clock.Ticks()
	out := make([]SlotInfo, 0, m.reg.count())
	for i := range m.reg.slots {
		if !m.reg.registered(i) {
			continue
		}
		s := &m.reg.slots[i]
		info := SlotInfo{
			Index:        i,
			Object:       s.inst.Object,
			Action:       s.inst.Action,
			Sync:         s.sync,
			TimeoutTicks: s.timeout,
			State:        s.state,
			Instruction:  s.inst,
			Executions:   s.exec,
		}
		if s.state == StateExecutingSync || s.state == StateExecutingAsync {
			info.ElapsedTicks = elapsedTicks(now, s.start)
		}
		out = append(out, info)
	}
	return out
}

// isStopped reports whether err came from task shutdown.
func isStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
