package comm

import (
	"context"
	"fmt"
)

// resultLoop is the single consumer of the result queue. It is the only
// caller of the done/error listeners and the only writer of StateCompleted.
func (m *Manager) resultLoop(ctx context.Context) error {
	m.logger.Debug("result task started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case idx := <-m.resultQ:
			if err := m.complete(ctx, idx); err != nil {
				if isStopped(err) {
					return nil
				}
				return err
			}
		}
	}
}

func (m *Manager) complete(ctx context.Context, idx int) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	s := &m.reg.slots[idx]
	code := s.result
	inst := s.inst
	s.result = 0
	m.unlock()

	// The slot stays non-idle (and reported) until the listener returns, so
	// it cannot be re-admitted or reported twice in the meantime.
	if code == 0 {
		m.notifyDone(inst)
	} else {
		m.notifyError(inst, code)
	}

	if err := m.lock(ctx); err != nil {
		return err
	}
	s.state = StateCompleted
	s.reported = false
	m.unlock()

	m.logger.Debug("instruction completed", "slot", idx, "code", code)
	return nil
}

func (m *Manager) notifyDone(inst Instruction) {
	defer m.recoverListener("done")
	m.cb.Done.OnDone(inst)
}

func (m *Manager) notifyError(inst Instruction, code uint32) {
	defer m.recoverListener("error")
	m.cb.Error.OnError(inst, code)
}

func (m *Manager) recoverListener(role string) {
	if r := recover(); r != nil {
		m.logger.Error("listener panicked", "role", role, "panic", fmt.Sprint(r))
	}
}
