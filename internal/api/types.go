package api

import (
	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/journal"
	"github.com/mattjoyce/commcore/internal/observe"
)

// SubmitRequest is the JSON body for POST /instructions.
type SubmitRequest struct {
	Object  uint8  `json:"object"`
	Action  uint8  `json:"action"`
	Para1   uint32 `json:"para1"`
	Para2   uint32 `json:"para2"`
	ParaNum uint8  `json:"para_num"`
}

// Instruction converts the request body.
func (r SubmitRequest) Instruction() comm.Instruction {
	return comm.Instruction{
		Object:  r.Object,
		Action:  r.Action,
		Para1:   r.Para1,
		Para2:   r.Para2,
		ParaNum: r.ParaNum,
	}
}

// SubmitResponse is returned when an instruction is admitted.
type SubmitResponse struct {
	Slot    int    `json:"slot"`
	Status  string `json:"status"`
	Command string `json:"command,omitempty"`
}

// DoneRequest is the JSON body for POST /slots/{index}/done.
type DoneRequest struct {
	Code uint32 `json:"code"`
}

// DoneResponse acknowledges a completion notice.
type DoneResponse struct {
	Slot   int    `json:"slot"`
	Status string `json:"status"`
}

// SlotView is one registered slot as shown by GET /slots.
type SlotView struct {
	comm.SlotInfo
	Command string `json:"command,omitempty"`
}

// SlotsResponse is returned by GET /slots.
type SlotsResponse struct {
	Capacity int        `json:"capacity"`
	Slots    []SlotView `json:"slots"`
}

// JournalResponse is returned by GET /journal.
type JournalResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Slot  *int   `json:"slot,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Capacity      int            `json:"capacity"`
	Registered    int            `json:"registered"`
	InFlight      int            `json:"in_flight"`
	Stats         *observe.Stats `json:"stats,omitempty"`
}
