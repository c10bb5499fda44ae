package journal

import "time"

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Entry is one completed instruction.
type Entry struct {
	ID           string     `json:"id"`
	Slot         int        `json:"slot"`
	Command      string     `json:"command,omitempty"`
	Object       uint8      `json:"object"`
	Action       uint8      `json:"action"`
	Para1        uint32     `json:"para1"`
	Para2        uint32     `json:"para2"`
	ParaNum      uint8      `json:"para_num"`
	Outcome      Outcome    `json:"outcome"`
	Code         uint32     `json:"code"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
}

// Duration is the time from dispatch to completion, or zero if unknown.
func (e Entry) Duration() time.Duration {
	if e.DispatchedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.DispatchedAt)
}
