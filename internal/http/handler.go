// Package httpapi serves the workout engine over HTTP for the host app and venue displays.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"workout-engine/internal/models"
	"workout-engine/internal/service"
	"workout-engine/internal/session"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

func NewHandler(svc service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	s, err := h.svc.StartSession(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(s))
}

func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.CurrentSession(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(s))
}

// EndSession returns the outcome even when persisting it failed, with a 500 status
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.EndSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, models.ErrPersistence) {
			writeJSON(w, http.StatusInternalServerError, Result[models.SessionOutcome]{
				Code: ResultError, Type: "error", Message: err.Error(), Result: outcome,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(outcome))
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetSession(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.svc.Leaderboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(board))
}

func (h *Handler) SessionAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.SessionAssignments(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *Handler) SessionResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.SessionResults(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(results))
}

func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	results, err := h.svc.SessionResults(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := GenerateResultsWorkbook(results)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=workout-results-%s.xlsx", sessionID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context(), r.URL.Query().Get("available") == "true")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(devices))
}

func (h *Handler) UpsertDevice(w http.ResponseWriter, r *http.Request) {
	var d models.Device
	if err := readBodyJSON(r, maxBodyBytes, &d); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	saved, err := h.svc.UpsertDevice(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(saved))
}

func (h *Handler) SyncDevices(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.SyncDevices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int{"synced": n}))
}

func (h *Handler) SetDeviceConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.ConnectionStatus `json:"connection_status"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	d, err := h.svc.SetDeviceConnection(r.Context(), chi.URLParam(r, "deviceID"), body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(d))
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var a models.Assignment
	if err := readBodyJSON(r, maxBodyBytes, &a); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	saved, err := h.svc.Assign(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(saved))
}

func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unassign(r.Context(), chi.URLParam(r, "assignmentID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
