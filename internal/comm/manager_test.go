package comm_test

import (
	"context"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/comm/mocks"
	"github.com/mattjoyce/commcore/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

const wait = 2 * time.Second

type fakeClock struct {
	now atomic.Uint32
}

func newFakeClock(start uint32) *fakeClock {
	c := &fakeClock{}
	c.now.Store(start)
	return c
}

func (c *fakeClock) Ticks() uint32 { return c.now.Load() }
func (c *fakeClock) Advance(n uint32) { c.now.Add(n) }

type failure struct {
	inst comm.Instruction
	code uint32
}

// recorder captures listener calls on buffered channels.
type recorder struct {
	dispatched chan comm.Instruction
	done       chan comm.Instruction
	failed     chan failure
}

func newRecorder() *recorder {
	return &recorder{
		dispatched: make(chan comm.Instruction, 64),
		done:       make(chan comm.Instruction, 64),
		failed:     make(chan failure, 64),
	}
}

func (r *recorder) callbacks() comm.Callbacks {
	return comm.Callbacks{
		Instruction: comm.InstructionFunc(func(inst comm.Instruction) { r.dispatched <- inst }),
		Done:        comm.DoneFunc(func(inst comm.Instruction) { r.done <- inst }),
		Error:       comm.ErrorFunc(func(inst comm.Instruction, code uint32) { r.failed <- failure{inst, code} }),
	}
}

// quiet asserts that no completion arrives for a while.
func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, r.done, "unexpected done callback")
	assert.Empty(t, r.failed, "unexpected error callback")
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(wait):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func testConfig(clock comm.Clock) comm.Config {
	return comm.Config{
		Capacity:          4,
		PollInterval:      time.Millisecond,
		SubmitLockTimeout: 10 * time.Millisecond,
		Tick:              time.Millisecond,
		Clock:             clock,
	}
}

// run starts m and stops it when the test ends. Handlers must have returned
// by then.
func run(t *testing.T, m *comm.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(wait):
			t.Error("manager did not stop")
		}
	})
}

func idle(t *testing.T, m *comm.Manager) {
	t.Helper()
	assert.Eventually(t, func() bool { return m.InFlight() == 0 }, wait, time.Millisecond)
}

func ok(comm.Instruction) uint32 { return 0 }

func TestSyncInstructionCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	handler := mocks.NewMockHandler(ctrl)
	onInst := mocks.NewMockInstructionListener(ctrl)
	onDone := mocks.NewMockDoneListener(ctrl)
	onErr := mocks.NewMockErrorListener(ctrl)

	inst := comm.Instruction{Object: 1, Action: 2, Para1: 7, ParaNum: 1}
	finished := make(chan struct{})
	gomock.InOrder(
		onInst.EXPECT().OnInstruction(inst),
		handler.EXPECT().Execute(inst).Return(uint32(0)),
		onDone.EXPECT().OnDone(inst).Do(func(comm.Instruction) { close(finished) }),
	)

	m := comm.New(testConfig(nil), comm.Callbacks{Instruction: onInst, Done: onDone, Error: onErr})
	idx, err := m.Register(1, 2, handler, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	run(t, m)

	got, err := m.Submit(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, idx, got)

	receive(t, finished)
	idle(t, m)

	slots := m.Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, comm.StateCompleted, slots[0].State)
	assert.Equal(t, inst, slots[0].Instruction)
}

func TestSyncInstructionError(t *testing.T) {
	rec := newRecorder()
	m := comm.New(testConfig(nil), rec.callbacks())
	_, err := m.Register(1, 3, comm.HandlerFunc(func(comm.Instruction) uint32 { return 5 }), true, 0)
	require.NoError(t, err)
	run(t, m)

	inst := comm.Instruction{Object: 1, Action: 3, Para2: 42}
	_, err = m.Submit(context.Background(), inst)
	require.NoError(t, err)

	f := receive(t, rec.failed)
	assert.Equal(t, inst, f.inst)
	assert.Equal(t, uint32(5), f.code)
	rec.quiet(t)
}

func TestHandlerPanicReportsPanicCode(t *testing.T) {
	rec := newRecorder()
	m := comm.New(testConfig(nil), rec.callbacks())
	_, err := m.Register(2, 1, comm.HandlerFunc(func(comm.Instruction) uint32 { panic("bad handler") }), true, 0)
	require.NoError(t, err)
	run(t, m)

	_, err = m.Submit(context.Background(), comm.Instruction{Object: 2, Action: 1})
	require.NoError(t, err)

	f := receive(t, rec.failed)
	assert.Equal(t, comm.PanicCode, f.code)
	idle(t, m)
}

func TestListenerPanicDoesNotStopResultTask(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 2)
	cb := comm.Callbacks{
		Done: comm.DoneFunc(func(comm.Instruction) {
			done <- struct{}{}
			if calls.Add(1) == 1 {
				panic("bad listener")
			}
		}),
	}
	m := comm.New(testConfig(nil), cb)
	_, err := m.Register(1, 1, comm.HandlerFunc(ok), true, 0)
	require.NoError(t, err)
	run(t, m)

	inst := comm.Instruction{Object: 1, Action: 1}
	_, err = m.Submit(context.Background(), inst)
	require.NoError(t, err)
	receive(t, done)
	idle(t, m)

	_, err = m.Submit(context.Background(), inst)
	require.NoError(t, err)
	receive(t, done)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAsyncTimeout(t *testing.T) {
	clk := newFakeClock(1000)
	rec := newRecorder()
	m := comm.New(testConfig(clk), rec.callbacks())
	_, err := m.Register(3, 1, comm.HandlerFunc(ok), false, 100*time.Millisecond)
	require.NoError(t, err)
	run(t, m)

	inst := comm.Instruction{Object: 3, Action: 1, Para1: 9}
	_, err = m.Submit(context.Background(), inst)
	require.NoError(t, err)
	receive(t, rec.dispatched)

	// elapsed == timeout is not yet expired
	clk.Advance(100)
	rec.quiet(t)

	clk.Advance(1)
	f := receive(t, rec.failed)
	assert.Equal(t, inst, f.inst)
	assert.Equal(t, comm.TimeoutCode, f.code)
	idle(t, m)
	rec.quiet(t)
}

func TestAsyncTimeoutAcrossWraparound(t *testing.T) {
	clk := newFakeClock(math.MaxUint32 - 10)
	rec := newRecorder()
	m := comm.New(testConfig(clk), rec.callbacks())
	_, err := m.Register(3, 2, comm.HandlerFunc(ok), false, 20*time.Millisecond)
	require.NoError(t, err)
	run(t, m)

	_, err = m.Submit(context.Background(), comm.Instruction{Object: 3, Action: 2})
	require.NoError(t, err)
	receive(t, rec.dispatched)

	clk.Advance(15)
	rec.quiet(t)

	clk.Advance(6)
	f := receive(t, rec.failed)
	assert.Equal(t, comm.TimeoutCode, f.code)
}

func TestAsyncNoTimeoutWaitsForNotify(t *testing.T) {
	clk := newFakeClock(0)
	rec := newRecorder()
	m := comm.New(testConfig(clk), rec.callbacks())
	idx, err := m.Register(4, 1, comm.HandlerFunc(ok), false, comm.NoTimeout)
	require.NoError(t, err)
	run(t, m)

	_, err = m.Submit(context.Background(), comm.Instruction{Object: 4, Action: 1})
	require.NoError(t, err)
	receive(t, rec.dispatched)

	clk.Advance(1 << 31)
	rec.quiet(t)

	require.NoError(t, m.TryNotifyDone(idx, 0))
	receive(t, rec.done)
}

func TestAsyncNotifyDone(t *testing.T) {
	rec := newRecorder()
	m := comm.New(testConfig(newFakeClock(0)), rec.callbacks())
	idx, err := m.Register(5, 1, comm.HandlerFunc(ok), false, time.Second)
	require.NoError(t, err)
	run(t, m)
	ctx := context.Background()

	inst := comm.Instruction{Object: 5, Action: 1, Para1: 1}
	_, err = m.Submit(ctx, inst)
	require.NoError(t, err)
	receive(t, rec.dispatched)
	assert.Equal(t, 1, m.InFlight())

	require.NoError(t, m.NotifyDone(ctx, idx, 0))
	assert.Equal(t, inst, receive(t, rec.done))
	idle(t, m)

	// a late duplicate notice is ignored
	require.NoError(t, m.NotifyDone(ctx, idx, 0))
	rec.quiet(t)

	_, err = m.Submit(ctx, inst)
	require.NoError(t, err)
	receive(t, rec.dispatched)
	require.NoError(t, m.NotifyDone(ctx, idx, 9))
	f := receive(t, rec.failed)
	assert.Equal(t, uint32(9), f.code)
}

func TestNotifyExecutionDoneIgnoresEarlierRun(t *testing.T) {
	clk := newFakeClock(0)
	rec := newRecorder()
	m := comm.New(testConfig(clk), rec.callbacks())
	ctx := context.Background()

	execs := make(chan uint64, 4)
	var idx int
	h := comm.HandlerFunc(func(comm.Instruction) uint32 {
		exec, err := m.Execution(ctx, idx)
		assert.NoError(t, err)
		execs <- exec
		return 0
	})
	idx, err := m.Register(6, 1, h, false, 50*time.Millisecond)
	require.NoError(t, err)
	run(t, m)

	first := comm.Instruction{Object: 6, Action: 1, Para1: 1}
	_, err = m.Submit(ctx, first)
	require.NoError(t, err)
	firstExec := receive(t, execs)
	clk.Advance(51)
	f := receive(t, rec.failed)
	assert.Equal(t, comm.TimeoutCode, f.code)
	assert.Equal(t, first, f.inst)
	idle(t, m)

	second := comm.Instruction{Object: 6, Action: 1, Para1: 2}
	_, err = m.Submit(ctx, second)
	require.NoError(t, err)
	secondExec := receive(t, execs)
	assert.Equal(t, firstExec+1, secondExec)

	// the first run's late notice must not finish the second run
	require.NoError(t, m.NotifyExecutionDone(ctx, idx, firstExec, 5))
	rec.quiet(t)
	assert.Equal(t, 1, m.InFlight())

	require.NoError(t, m.NotifyExecutionDone(ctx, idx, secondExec, 0))
	assert.Equal(t, second, receive(t, rec.done))

	slots := m.Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, secondExec, slots[0].Executions)

	_, err = m.Execution(ctx, 99)
	assert.ErrorIs(t, err, comm.ErrInvalidSlot)
	assert.ErrorIs(t, m.NotifyExecutionDone(ctx, -1, 0, 0), comm.ErrInvalidSlot)
}

func TestAsyncHandlerNonzeroReportsImmediately(t *testing.T) {
	rec := newRecorder()
	m := comm.New(testConfig(newFakeClock(0)), rec.callbacks())
	_, err := m.Register(5, 2, comm.HandlerFunc(func(comm.Instruction) uint32 { return 3 }), false, comm.NoTimeout)
	require.NoError(t, err)
	run(t, m)

	_, err = m.Submit(context.Background(), comm.Instruction{Object: 5, Action: 2})
	require.NoError(t, err)
	f := receive(t, rec.failed)
	assert.Equal(t, uint32(3), f.code)
	idle(t, m)
}

func TestAsyncHandlerNotifiesItself(t *testing.T) {
	rec := newRecorder()
	var m *comm.Manager
	h := comm.HandlerFunc(func(inst comm.Instruction) uint32 {
		idx, err := m.FindSlot(inst.Object, inst.Action)
		if err != nil {
			return 1
		}
		if err := m.NotifyDone(context.Background(), idx, 0); err != nil {
			return 1
		}
		// already reported, so this code is dropped
		return 4
	})
	m = comm.New(testConfig(newFakeClock(0)), rec.callbacks())
	_, err := m.Register(6, 1, h, false, comm.NoTimeout)
	require.NoError(t, err)
	run(t, m)

	_, err = m.Submit(context.Background(), comm.Instruction{Object: 6, Action: 1})
	require.NoError(t, err)
	receive(t, rec.done)
	idle(t, m)
	rec.quiet(t)
}

func TestNotifyRacesTimeoutExactlyOnce(t *testing.T) {
	clk := newFakeClock(0)
	rec := newRecorder()
	m := comm.New(testConfig(clk), rec.callbacks())
	idx, err := m.Register(7, 1, comm.HandlerFunc(ok), false, time.Millisecond)
	require.NoError(t, err)
	run(t, m)
	ctx := context.Background()

	for range 25 {
		_, err := m.Submit(ctx, comm.Instruction{Object: 7, Action: 1})
		require.NoError(t, err)
		receive(t, rec.dispatched)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			clk.Advance(2)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.NotifyDone(ctx, idx, 0))
		}()
		wg.Wait()

		select {
		case <-rec.done:
		case f := <-rec.failed:
			assert.Equal(t, comm.TimeoutCode, f.code)
		case <-time.After(wait):
			t.Fatal("no completion reported")
		}
		idle(t, m)
		assert.Empty(t, rec.done)
		assert.Empty(t, rec.failed)
	}
}

func TestSubmitBusyWhileExecuting(t *testing.T) {
	release := make(chan struct{})
	rec := newRecorder()
	m := comm.New(testConfig(nil), rec.callbacks())
	idx, err := m.Register(8, 1, comm.HandlerFunc(func(comm.Instruction) uint32 {
		<-release
		return 0
	}), true, 0)
	require.NoError(t, err)
	run(t, m)
	ctx := context.Background()

	inst := comm.Instruction{Object: 8, Action: 1, Para1: 1}
	_, err = m.Submit(ctx, inst)
	require.NoError(t, err)
	receive(t, rec.dispatched)

	busy, err := m.Submit(ctx, comm.Instruction{Object: 8, Action: 1, Para1: 2})
	assert.ErrorIs(t, err, comm.ErrBusy)
	assert.Equal(t, idx, busy)
	_, err = m.TrySubmit(inst)
	assert.ErrorIs(t, err, comm.ErrBusy)

	close(release)
	assert.Equal(t, inst, receive(t, rec.done))
	idle(t, m)

	_, err = m.Submit(ctx, inst)
	require.NoError(t, err)
	receive(t, rec.done)
}

func TestSubmitBusyWhileWaiting(t *testing.T) {
	m := comm.New(testConfig(nil), comm.Callbacks{})
	_, err := m.Register(1, 1, comm.HandlerFunc(ok), true, 0)
	require.NoError(t, err)

	inst := comm.Instruction{Object: 1, Action: 1}
	_, err = m.Submit(context.Background(), inst)
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), inst)
	assert.ErrorIs(t, err, comm.ErrBusy)

	slots := m.Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, comm.StateWaiting, slots[0].State)
	assert.Equal(t, 1, m.InFlight())
}

func TestSubmitNotRegistered(t *testing.T) {
	m := comm.New(testConfig(nil), comm.Callbacks{})
	_, err := m.Register(1, 1, comm.HandlerFunc(ok), true, 0)
	require.NoError(t, err)

	idx, err := m.Submit(context.Background(), comm.Instruction{Object: 1, Action: 2})
	assert.ErrorIs(t, err, comm.ErrNotRegistered)
	assert.Equal(t, -1, idx)

	_, err = m.TrySubmit(comm.Instruction{Object: 9})
	assert.ErrorIs(t, err, comm.ErrNotRegistered)
}

func TestRegister(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Capacity = 2
	m := comm.New(cfg, comm.Callbacks{})
	assert.Equal(t, 2, m.Capacity())

	_, err := m.Register(1, 1, nil, true, 0)
	assert.ErrorIs(t, err, comm.ErrInvalidHandler)

	first, err := m.Register(1, 1, comm.HandlerFunc(ok), true, 0)
	require.NoError(t, err)
	second, err := m.Register(1, 2, comm.HandlerFunc(ok), false, comm.NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	_, err = m.Register(1, 1, comm.HandlerFunc(ok), true, 0)
	assert.ErrorIs(t, err, comm.ErrAlreadyRegistered)

	_, err = m.Register(2, 1, comm.HandlerFunc(ok), true, 0)
	assert.ErrorIs(t, err, comm.ErrRegistryFull)
	assert.Equal(t, 2, m.Registered())

	idx, err := m.FindSlot(1, 2)
	require.NoError(t, err)
	assert.Equal(t, second, idx)
	_, err = m.FindSlot(3, 3)
	assert.ErrorIs(t, err, comm.ErrNotFound)

	slots := m.Slots()
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Sync)
	assert.Equal(t, uint32(10), slots[0].TimeoutTicks)
	assert.False(t, slots[1].Sync)
	assert.Equal(t, comm.InfiniteTicks, slots[1].TimeoutTicks)
	assert.Equal(t, comm.StateCompleted, slots[1].State)
}

func TestNotifyDoneInvalid(t *testing.T) {
	rec := newRecorder()
	m := comm.New(testConfig(nil), rec.callbacks())
	idx, err := m.Register(1, 1, comm.HandlerFunc(ok), true, 0)
	require.NoError(t, err)
	run(t, m)
	ctx := context.Background()

	assert.ErrorIs(t, m.NotifyDone(ctx, -1, 0), comm.ErrInvalidSlot)
	assert.ErrorIs(t, m.NotifyDone(ctx, m.Capacity(), 0), comm.ErrInvalidSlot)
	assert.ErrorIs(t, m.TryNotifyDone(99, 0), comm.ErrInvalidSlot)

	// idle, unregistered and sync slots ignore notices
	assert.NoError(t, m.NotifyDone(ctx, idx, 0))
	assert.NoError(t, m.NotifyDone(ctx, 3, 0))
	rec.quiet(t)
}

func TestStartTwice(t *testing.T) {
	m := comm.New(testConfig(nil), comm.Callbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Start(ctx), context.Canceled)
	assert.ErrorIs(t, m.Start(context.Background()), comm.ErrAlreadyStarted)
}

func TestInstructionString(t *testing.T) {
	inst := comm.Instruction{Object: 1, Action: 2, Para1: 7, ParaNum: 1}
	assert.Equal(t, "obj=1 action=2 para1=7 para2=0 n=1", inst.String())
}

func TestStateText(t *testing.T) {
	for _, s := range []comm.State{comm.StateNone, comm.StateWaiting, comm.StateExecutingSync, comm.StateExecutingAsync, comm.StateCompleted} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back comm.State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s comm.State
	assert.Error(t, s.UnmarshalText([]byte("running")))
	assert.Equal(t, "state(9)", comm.State(9).String())
	assert.True(t, comm.StateCompleted.Idle())
	assert.False(t, comm.StateWaiting.Idle())
}
