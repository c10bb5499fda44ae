package comm

import "fmt"

// Instruction is a decoded command value. It is always passed by value.
type Instruction struct {
	Object  uint8  `json:"object"`
	Action  uint8  `json:"action"`
	Para1   uint32 `json:"para1"`
	Para2   uint32 `json:"para2"`
	ParaNum uint8  `json:"para_num"`
}

func (i Instruction) String() string {
	return fmt.Sprintf("obj=%d action=%d para1=%d para2=%d n=%d", i.Object, i.Action, i.Para1, i.Para2, i.ParaNum)
}

// State is the lifecycle state of a slot.
type State uint8

const (
	StateNone State = iota
	StateWaiting
	StateExecutingSync
	StateExecutingAsync
	StateCompleted
)

var stateNames = [...]string{
	StateNone:           "none",
	StateWaiting:        "waiting",
	StateExecutingSync:  "executing_sync",
	StateExecutingAsync: "executing_async",
	StateCompleted:      "completed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText renders the state name for JSON/YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown slot state %q", string(b))
}

// Idle reports whether a slot in this state may admit a new instruction.
func (s State) Idle() bool {
	return s == StateCompleted
}
