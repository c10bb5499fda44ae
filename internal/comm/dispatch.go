package comm

import (
	"context"
	"fmt"

	"github.com/mattjoyce/commcore/internal/log"
)

// dispatchLoop is the single consumer of the execute queue.
func (m *Manager) dispatchLoop(ctx context.Context) error {
	m.logger.Debug("dispatch task started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case idx := <-m.execQ:
			if err := m.dispatch(ctx, idx); err != nil {
				if isStopped(err) {
					return nil
				}
				return err
			}
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, idx int) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	s := &m.reg.slots[idx]
	h := s.handler
	sync := s.sync
	inst := s.inst
	if sync {
		s.state = StateExecutingSync
	} else {
		s.state = StateExecutingAsync
	}
	s.start = m.clock.Ticks()
	s.result = 0
	s.reported = false
	s.exec++
	m.unlock()

	logger := log.WithSlot(idx).With("component", "comm", "object", inst.Object, "action", inst.Action)
	logger.Debug("dispatching instruction", "sync", sync, "para1", inst.Para1, "para2", inst.Para2)

	m.notifyInstruction(inst)
	code := m.execute(h, inst)

	if code == 0 && !sync {
		logger.Debug("async instruction pending")
		return nil
	}

	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	// An async handler may already have been reported by NotifyDone or the
	// timeout monitor while it was running.
	want := StateExecutingAsync
	if sync {
		want = StateExecutingSync
	}
	if s.state != want || s.reported {
		logger.Debug("handler result superseded", "code", code, "state", s.state)
		return nil
	}
	s.result = code
	m.reportLocked(idx)
	return nil
}

// execute runs the handler, turning a panic into PanicCode.
func (m *Manager) execute(h Handler, inst Instruction) (code uint32) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked",
				"object", inst.Object,
				"action", inst.Action,
				"panic", fmt.Sprint(r),
			)
			code = PanicCode
		}
	}()
	return h.Execute(inst)
}

func (m *Manager) notifyInstruction(inst Instruction) {
	defer m.recoverListener("instruction")
	m.cb.Instruction.OnInstruction(inst)
}
