package comm

import "math/bits"

// slot is one arena entry. All fields are guarded by the manager lock.
type slot struct {
	// binding, immutable after registration
	handler Handler
	sync    bool
	timeout uint32

	inst     Instruction
	state    State
	start    uint32
	result   uint32
	reported bool
	// exec counts dispatches so late notices can name the run they finish
	exec uint64
}

// registry is the fixed slot arena plus its allocation bitmap.
type registry struct {
	slots  []slot
	bitmap []uint64
}

func newRegistry(capacity int) *registry {
	return &registry{
		slots:  make([]slot, capacity),
		bitmap: make([]uint64, (capacity+63)/64),
	}
}

func (r *registry) capacity() int { return len(r.slots) }

func (r *registry) registered(i int) bool {
	return r.bitmap[i>>6]&(1<<(uint(i)&63)) != 0
}

func (r *registry) mark(i int) {
	r.bitmap[i>>6] |= 1 << (uint(i) & 63)
}

// findFree returns the lowest unregistered index, or -1.
func (r *registry) findFree() int {
	for w, word := range r.bitmap {
		if word == ^uint64(0) {
			continue
		}
		i := w*64 + bits.TrailingZeros64(^word)
		if i < len(r.slots) {
			return i
		}
	}
	return -1
}

// find returns the index bound to (object, action), or -1.
func (r *registry) find(object, action uint8) int {
	for i := range r.slots {
		if !r.registered(i) {
			continue
		}
		if r.slots[i].inst.Object == object && r.slots[i].inst.Action == action {
			return i
		}
	}
	return -1
}

func (r *registry) count() int {
	n := 0
	for _, word := range r.bitmap {
		n += bits.OnesCount64(word)
	}
	return n
}
