package comm

import (
	"context"
	"time"
)

// timeoutLoop scans for expired async commands every PollInterval.
func (m *Manager) timeoutLoop(ctx context.Context) error {
	m.logger.Debug("timeout monitor started", "interval", m.cfg.PollInterval)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.scanTimeouts(ctx); err != nil {
				if isStopped(err) {
					return nil
				}
				return err
			}
		}
	}
}

func (m *Manager) scanTimeouts(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	now := m.clock.Ticks()
	for i := range m.reg.slots {
		if !m.reg.registered(i) {
			continue
		}
		s := &m.reg.slots[i]
		if s.state != StateExecutingAsync || s.timeout == InfiniteTicks || s.reported {
			continue
		}
		elapsed := elapsedTicks(now, s.start)
		if elapsed <= s.timeout {
			continue
		}
		m.logger.Warn("async instruction timed out",
			"slot", i,
			"object", s.inst.Object,
			"action", s.inst.Action,
			"elapsed_ticks", elapsed,
			"timeout_ticks", s.timeout,
		)
		s.result = TimeoutCode
		m.reportLocked(i)
	}
	return nil
}
