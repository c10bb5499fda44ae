package executors

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/config"
	"github.com/mattjoyce/commcore/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type outcome struct {
	inst comm.Instruction
	code uint32
}

// harness runs a manager whose listeners report every outcome on a channel.
func harness(t *testing.T, cmds []config.CommandConfig) (*comm.Manager, []Binding, chan outcome) {
	t.Helper()
	out := make(chan outcome, 16)
	m := comm.New(comm.Config{Capacity: 8, PollInterval: time.Millisecond}, comm.Callbacks{
		Done:  comm.DoneFunc(func(inst comm.Instruction) { out <- outcome{inst, 0} }),
		Error: comm.ErrorFunc(func(inst comm.Instruction, code uint32) { out <- outcome{inst, code} }),
	})

	ctx, cancel := context.WithCancel(context.Background())
	bindings, err := Bind(ctx, m, cmds)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- m.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return m, bindings, out
}

func await(t *testing.T, ch chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
	}
	return outcome{}
}

func submit(t *testing.T, m *comm.Manager, inst comm.Instruction) {
	t.Helper()
	_, err := m.Submit(context.Background(), inst)
	require.NoError(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"defer", "echo", "fail", "hang", "sleep"}, Names())
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		cmd     config.CommandConfig
		wantErr error
	}{
		{"echo sync", config.CommandConfig{Name: "a", Executor: "echo", Mode: config.ModeSync}, nil},
		{"echo async", config.CommandConfig{Name: "a", Executor: "echo", Mode: config.ModeAsync}, nil},
		{"unknown", config.CommandConfig{Name: "a", Executor: "motor", Mode: config.ModeSync}, ErrUnknownExecutor},
		{"sleep async", config.CommandConfig{Name: "a", Executor: "sleep", Mode: config.ModeAsync}, ErrModeUnsupported},
		{"defer sync", config.CommandConfig{Name: "a", Executor: "defer", Mode: config.ModeSync}, ErrModeUnsupported},
		{"hang async", config.CommandConfig{Name: "a", Executor: "hang", Mode: config.ModeAsync}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.cmd)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestBind(t *testing.T) {
	m, bindings, _ := harness(t, []config.CommandConfig{
		{Name: "motor.move", Object: 1, Action: 2, Executor: "echo", Mode: config.ModeSync},
		{Name: "door.wait", Object: 3, Action: 1, Executor: "hang", Mode: config.ModeAsync, Timeout: "infinite"},
		{Name: "sensor.read", Object: 2, Action: 1, Executor: "defer", Mode: config.ModeAsync, Timeout: "50ms"},
	})

	require.Len(t, bindings, 3)
	assert.Equal(t, Binding{Name: "motor.move", Executor: "echo", Object: 1, Action: 2, Slot: 0, Sync: true}, bindings[0])
	assert.Equal(t, 2, bindings[2].Slot)

	slots := m.Slots()
	require.Len(t, slots, 3)
	assert.Equal(t, comm.InfiniteTicks, slots[1].TimeoutTicks)
	assert.Equal(t, uint32(50), slots[2].TimeoutTicks)
}

func TestBindRejectsDuplicate(t *testing.T) {
	m := comm.New(comm.Config{Capacity: 4}, comm.Callbacks{})
	_, err := Bind(context.Background(), m, []config.CommandConfig{
		{Name: "a", Object: 1, Action: 1, Executor: "echo", Mode: config.ModeSync},
		{Name: "b", Object: 1, Action: 1, Executor: "echo", Mode: config.ModeSync},
	})
	assert.ErrorIs(t, err, comm.ErrAlreadyRegistered)
}

func TestEchoAndFail(t *testing.T) {
	m, _, out := harness(t, []config.CommandConfig{
		{Name: "echo", Object: 1, Action: 1, Executor: "echo", Mode: config.ModeSync},
		{Name: "echo.async", Object: 1, Action: 2, Executor: "echo", Mode: config.ModeAsync, Timeout: "infinite"},
		{Name: "fail.fixed", Object: 2, Action: 1, Executor: "fail", Mode: config.ModeSync, Params: map[string]any{"code": 7}},
		{Name: "fail.para", Object: 2, Action: 2, Executor: "fail", Mode: config.ModeSync, Params: map[string]any{"code_from": "para1"}},
	})

	submit(t, m, comm.Instruction{Object: 1, Action: 1})
	assert.Equal(t, uint32(0), await(t, out).code)

	submit(t, m, comm.Instruction{Object: 1, Action: 2})
	assert.Equal(t, uint32(0), await(t, out).code)

	submit(t, m, comm.Instruction{Object: 2, Action: 1})
	assert.Equal(t, uint32(7), await(t, out).code)

	submit(t, m, comm.Instruction{Object: 2, Action: 2, Para1: 42})
	assert.Equal(t, uint32(42), await(t, out).code)
}

func TestSleep(t *testing.T) {
	m, _, out := harness(t, []config.CommandConfig{
		{Name: "sleep", Object: 4, Action: 1, Executor: "sleep", Mode: config.ModeSync, Params: map[string]any{"duration": "15ms"}},
	})

	start := time.Now()
	submit(t, m, comm.Instruction{Object: 4, Action: 1})
	o := await(t, out)
	assert.Equal(t, uint32(0), o.code)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestDeferNotifiesLater(t *testing.T) {
	m, _, out := harness(t, []config.CommandConfig{
		{Name: "defer", Object: 5, Action: 1, Executor: "defer", Mode: config.ModeAsync, Timeout: "infinite",
			Params: map[string]any{"delay": "50ms", "code": 3}},
	})

	submit(t, m, comm.Instruction{Object: 5, Action: 1, Para1: 1})
	assert.Equal(t, 1, m.InFlight())
	o := await(t, out)
	assert.Equal(t, uint32(3), o.code)
	assert.Equal(t, uint32(1), o.inst.Para1)
}

// executing waits until the only slot of m has been dispatched.
func executing(t *testing.T, m *comm.Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		slots := m.Slots()
		return len(slots) == 1 && slots[0].State == comm.StateExecutingAsync
	}, time.Second, time.Millisecond)
}

func TestDeferSkipsRunFinishedElsewhere(t *testing.T) {
	m, bindings, out := harness(t, []config.CommandConfig{
		{Name: "defer", Object: 5, Action: 2, Executor: "defer", Mode: config.ModeAsync, Timeout: "infinite",
			Params: map[string]any{"delay_from": "para2", "code": 3}},
	})
	ctx := context.Background()
	idx := bindings[0].Slot

	// first run finished externally before its 40ms timer fires
	submit(t, m, comm.Instruction{Object: 5, Action: 2, Para1: 1, Para2: 40})
	executing(t, m)
	require.NoError(t, m.NotifyDone(ctx, idx, 7))
	assert.Equal(t, uint32(7), await(t, out).code)
	require.Eventually(t, func() bool { return m.InFlight() == 0 }, time.Second, time.Millisecond)

	submit(t, m, comm.Instruction{Object: 5, Action: 2, Para1: 2, Para2: 5000})
	executing(t, m)

	// the first timer has fired by now and must have been ignored
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, out)
	assert.Equal(t, 1, m.InFlight())

	require.NoError(t, m.NotifyDone(ctx, idx, 9))
	o := await(t, out)
	assert.Equal(t, uint32(9), o.code)
	assert.Equal(t, uint32(2), o.inst.Para1)
}

func TestHangTimesOut(t *testing.T) {
	m, _, out := harness(t, []config.CommandConfig{
		{Name: "hang", Object: 6, Action: 1, Executor: "hang", Mode: config.ModeAsync, Timeout: "20ms"},
	})

	submit(t, m, comm.Instruction{Object: 6, Action: 1})
	assert.Equal(t, comm.TimeoutCode, await(t, out).code)
}

func TestParams(t *testing.T) {
	p := map[string]any{"i": 5, "f": 2.5, "s": "0x10", "d": "1s", "bad": "x"}
	assert.Equal(t, uint32(5), paramUint32(p, "i", 0))
	assert.Equal(t, uint32(2), paramUint32(p, "f", 0))
	assert.Equal(t, uint32(16), paramUint32(p, "s", 0))
	assert.Equal(t, uint32(9), paramUint32(p, "bad", 9))
	assert.Equal(t, uint32(9), paramUint32(nil, "i", 9))

	assert.Equal(t, time.Second, paramDuration(p, "d", 0))
	assert.Equal(t, 5*time.Millisecond, paramDuration(p, "i", 0))
	assert.Equal(t, 2500*time.Microsecond, paramDuration(p, "f", 0))
	assert.Equal(t, time.Minute, paramDuration(p, "bad", time.Minute))
}
