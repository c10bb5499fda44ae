// Package executors holds the built-in handlers that config binds to
// (object, action) pairs.
package executors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/config"
	"github.com/mattjoyce/commcore/internal/log"
)

var (
	ErrUnknownExecutor = errors.New("unknown executor")
	ErrModeUnsupported = errors.New("executor does not support mode")
)

// Dispatcher is the part of the comm manager executors need.
type Dispatcher interface {
	Register(object, action uint8, h comm.Handler, sync bool, timeout time.Duration) (int, error)
	FindSlot(object, action uint8) (int, error)
	Execution(ctx context.Context, index int) (uint64, error)
	NotifyExecutionDone(ctx context.Context, index int, exec uint64, code uint32) error
}

// Binding records where a configured command landed.
type Binding struct {
	Name     string `json:"name"`
	Executor string `json:"executor"`
	Object   uint8  `json:"object"`
	Action   uint8  `json:"action"`
	Slot     int    `json:"slot"`
	Sync     bool   `json:"sync"`
}

type builtin struct {
	sync, async bool
	build       func(e *env) comm.Handler
}

// env is what a factory sees while building one handler.
type env struct {
	ctx    context.Context
	cmd    config.CommandConfig
	d      Dispatcher
	logger *slog.Logger
}

var builtins = map[string]builtin{
	"echo":  {sync: true, async: true, build: buildEcho},
	"fail":  {sync: true, async: true, build: buildFail},
	"sleep": {sync: true, build: buildSleep},
	"defer": {async: true, build: buildDefer},
	"hang":  {async: true, build: buildHang},
}

// Names lists the built-in executors.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports whether cmd names a known executor in a supported mode.
func Check(cmd config.CommandConfig) error {
	s, ok := builtins[cmd.Executor]
	if !ok {
		return fmt.Errorf("command %q: %w %q (known: %v)", cmd.Name, ErrUnknownExecutor, cmd.Executor, Names())
	}
	if cmd.Sync() && !s.sync || !cmd.Sync() && !s.async {
		return fmt.Errorf("command %q: %w: %s %s", cmd.Name, ErrModeUnsupported, cmd.Executor, cmd.Mode)
	}
	return nil
}

// Build creates the handler for cmd. ctx bounds deferred notifications.
func Build(ctx context.Context, cmd config.CommandConfig, d Dispatcher) (comm.Handler, error) {
	if err := Check(cmd); err != nil {
		return nil, err
	}
	return builtins[cmd.Executor].build(&env{
		ctx:    ctx,
		cmd:    cmd,
		d:      d,
		logger: log.WithCommand(cmd.Name),
	}), nil
}

// Bind builds and registers every command, in order.
func Bind(ctx context.Context, d Dispatcher, cmds []config.CommandConfig) ([]Binding, error) {
	out := make([]Binding, 0, len(cmds))
	for _, cmd := range cmds {
		h, err := Build(ctx, cmd, d)
		if err != nil {
			return nil, err
		}

		timeout := comm.NoTimeout
		if !cmd.Infinite() {
			if timeout, err = cmd.TimeoutDuration(); err != nil {
				return nil, fmt.Errorf("command %q: %w", cmd.Name, err)
			}
		}

		idx, err := d.Register(cmd.Object, cmd.Action, h, cmd.Sync(), timeout)
		if err != nil {
			return nil, fmt.Errorf("register command %q: %w", cmd.Name, err)
		}
		out = append(out, Binding{
			Name:     cmd.Name,
			Executor: cmd.Executor,
			Object:   cmd.Object,
			Action:   cmd.Action,
			Slot:     idx,
			Sync:     cmd.Sync(),
		})
	}
	return out, nil
}

func buildEcho(e *env) comm.Handler {
	sync := e.cmd.Sync()
	return comm.HandlerFunc(func(inst comm.Instruction) uint32 {
		e.logger.Debug("echo", "instruction", inst.String())
		if !sync {
			if r, ok := e.current(inst); ok {
				e.finish(r, 0)
			}
		}
		return 0
	})
}

func buildFail(e *env) comm.Handler {
	code := paramUint32(e.cmd.Params, "code", 1)
	fromPara1 := e.cmd.Params["code_from"] == "para1"
	return comm.HandlerFunc(func(inst comm.Instruction) uint32 {
		if fromPara1 {
			return inst.Para1
		}
		return code
	})
}

func buildSleep(e *env) comm.Handler {
	d := paramDuration(e.cmd.Params, "duration", 5*time.Millisecond)
	fromPara1 := e.cmd.Params["duration_from"] == "para1"
	return comm.HandlerFunc(func(inst comm.Instruction) uint32 {
		wait := d
		if fromPara1 {
			wait = time.Duration(inst.Para1) * time.Millisecond
		}
		time.Sleep(wait)
		return 0
	})
}

func buildDefer(e *env) comm.Handler {
	delay := paramDuration(e.cmd.Params, "delay", 20*time.Millisecond)
	code := paramUint32(e.cmd.Params, "code", 0)
	fromPara2 := e.cmd.Params["delay_from"] == "para2"
	return comm.HandlerFunc(func(inst comm.Instruction) uint32 {
		wait := delay
		if fromPara2 {
			wait = time.Duration(inst.Para2) * time.Millisecond
		}
		r, ok := e.current(inst)
		if !ok {
			return 0
		}
		time.AfterFunc(wait, func() { e.finish(r, code) })
		return 0
	})
}

func buildHang(e *env) comm.Handler {
	return comm.HandlerFunc(func(inst comm.Instruction) uint32 {
		e.logger.Debug("hanging, completion left to timeout or notify", "instruction", inst.String())
		return 0
	})
}

// run names one dispatch of a slot.
type run struct {
	slot int
	exec uint64
}

// current identifies the run being handled. It must be called from the
// handler, before it returns.
func (e *env) current(inst comm.Instruction) (run, bool) {
	idx, err := e.d.FindSlot(inst.Object, inst.Action)
	if err != nil {
		e.logger.Error("deferred completion lost", "error", err)
		return run{}, false
	}
	exec, err := e.d.Execution(e.ctx, idx)
	if err != nil {
		e.logger.Error("deferred completion lost", "slot", idx, "error", err)
		return run{}, false
	}
	return run{slot: idx, exec: exec}, true
}

// finish completes r. A run already finished by its timeout is left alone.
func (e *env) finish(r run, code uint32) {
	if e.ctx.Err() != nil {
		return
	}
	if err := e.d.NotifyExecutionDone(e.ctx, r.slot, r.exec, code); err != nil {
		e.logger.Error("deferred completion failed", "slot", r.slot, "error", err)
	}
}

func paramUint32(params map[string]any, key string, def uint32) uint32 {
	switch v := params[key].(type) {
	case int:
		return uint32(v)
	case int64:
		return uint32(v)
	case uint64:
		return uint32(v)
	case float64:
		return uint32(v)
	case string:
		if n, err := strconv.ParseUint(v, 0, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

// paramDuration accepts a duration string or a number of milliseconds.
func paramDuration(params map[string]any, key string, def time.Duration) time.Duration {
	switch v := params[key].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
