// Package comm is the instruction-execution core: a fixed-capacity registry of
// command slots, single-flight admission, and the three tasks that move an
// instruction from submission to a completion callback.
//
// Each registered (object, action) pair owns exactly one slot. A slot accepts
// a new instruction only while it is idle, so the same command never has two
// executions in flight.
//
// Pipeline:
//   - Submit / TrySubmit store the instruction and push the slot index onto
//     the execute queue.
//   - The dispatch task pops indices one at a time and runs the bound handler
//     outside the registry lock. Handler calls are serialized.
//   - Sync commands, and any command whose handler returns nonzero, are pushed
//     onto the result queue immediately. Async commands stay pending until
//     NotifyDone or the timeout monitor reports them.
//   - The result task is the only place callbacks fire and the only place a
//     slot goes back to idle.
//
// Locking:
//   - One lock guards the whole registry. Handlers and callbacks run without
//     it.
//   - TrySubmit and TryNotifyDone never wait: they try-acquire the lock and
//     use non-blocking queue sends, failing with ErrUnavailable instead.
//
// Completion reporting:
//   - A slot is pushed onto the result queue at most once per execution. The
//     first reporter (handler error, sync success, NotifyDone or timeout)
//     claims it; later reports for the same execution are ignored.
//   - Timeouts are measured in ticks with unsigned wraparound arithmetic and
//     reported with TimeoutCode.
package comm
