package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/events"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Capacity:      s.dispatcher.Capacity(),
		Registered:    s.dispatcher.Registered(),
		InFlight:      s.dispatcher.InFlight(),
	}
	if s.observer != nil {
		st := s.observer.Stats()
		resp.Stats = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /instructions.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	inst := req.Instruction()
	name := s.commandName(inst.Object, inst.Action)

	idx, err := s.dispatcher.Submit(r.Context(), inst)
	if err != nil {
		s.events.Publish(events.TypeRejected, map[string]any{
			"object":  inst.Object,
			"action":  inst.Action,
			"command": name,
			"error":   err.Error(),
		})
		switch {
		case errors.Is(err, comm.ErrNotRegistered):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, comm.ErrBusy):
			if _, ok := s.busyLog.Allow([2]uint8{inst.Object, inst.Action}); ok {
				s.logger.Warn("instruction rejected, slot busy", "slot", idx, "command", name, "instruction", inst.String())
			}
			respondJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Slot: &idx})
		case errors.Is(err, comm.ErrUnavailable):
			s.logger.Warn("instruction rejected, dispatcher unavailable", "command", name, "error", err)
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("submit failed", "command", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.events.Publish(events.TypeAccepted, map[string]any{
		"slot":    idx,
		"object":  inst.Object,
		"action":  inst.Action,
		"command": name,
	})
	respondJSON(w, http.StatusAccepted, SubmitResponse{Slot: idx, Status: "accepted", Command: name})
}

// handleNotifyDone handles POST /slots/{index}/done.
func (s *Server) handleNotifyDone(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "slot index must be an integer")
		return
	}

	var req DoneRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := s.dispatcher.NotifyDone(r.Context(), idx, req.Code); err != nil {
		switch {
		case errors.Is(err, comm.ErrInvalidSlot):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	// Notices for idle or already reported slots are accepted and ignored.
	respondJSON(w, http.StatusAccepted, DoneResponse{Slot: idx, Status: "accepted"})
}

// handleSlots handles GET /slots.
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	infos := s.dispatcher.Slots()
	views := make([]SlotView, 0, len(infos))
	for _, info := range infos {
		views = append(views, SlotView{
			SlotInfo: info,
			Command:  s.commandName(info.Object, info.Action),
		})
	}
	respondJSON(w, http.StatusOK, SlotsResponse{Capacity: s.dispatcher.Capacity(), Slots: views})
}

// handleJournal handles GET /journal?limit=N.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	respondJSON(w, http.StatusOK, JournalResponse{Entries: entries})
}

func (s *Server) commandName(object, action uint8) string {
	if s.observer == nil {
		return ""
	}
	name, _ := s.observer.CommandName(object, action)
	return name
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
