package comm

//go:generate mockgen -destination=mocks/mock_listener.go -package=mocks github.com/mattjoyce/commcore/internal/comm Handler,InstructionListener,DoneListener,ErrorListener

// Handler executes one instruction and returns its result code. Zero means
// success; any other value is a handler-specific error.
type Handler interface {
	Execute(inst Instruction) uint32
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(inst Instruction) uint32

func (f HandlerFunc) Execute(inst Instruction) uint32 { return f(inst) }

// InstructionListener observes every dispatched instruction before its
// handler runs.
type InstructionListener interface {
	OnInstruction(inst Instruction)
}

// DoneListener is told about every instruction that completed with code 0.
type DoneListener interface {
	OnDone(inst Instruction)
}

// ErrorListener is told about every instruction that completed with a
// nonzero code, including TimeoutCode.
type ErrorListener interface {
	OnError(inst Instruction, code uint32)
}

type InstructionFunc func(inst Instruction)

func (f InstructionFunc) OnInstruction(inst Instruction) { f(inst) }

type DoneFunc func(inst Instruction)

func (f DoneFunc) OnDone(inst Instruction) { f(inst) }

type ErrorFunc func(inst Instruction, code uint32)

func (f ErrorFunc) OnError(inst Instruction, code uint32) { f(inst, code) }

// Callbacks groups the three listener roles. Nil members are no-ops.
type Callbacks struct {
	Instruction InstructionListener
	Done        DoneListener
	Error       ErrorListener
}

type noopListener struct{}

func (noopListener) OnInstruction(Instruction)   {}
func (noopListener) OnDone(Instruction)          {}
func (noopListener) OnError(Instruction, uint32) {}

func (c Callbacks) withDefaults() Callbacks {
	if c.Instruction == nil {
		c.Instruction = noopListener{}
	}
	if c.Done == nil {
		c.Done = noopListener{}
	}
	if c.Error == nil {
		c.Error = noopListener{}
	}
	return c
}
