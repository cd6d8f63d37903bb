package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rf-almeida/cortegrid/internal/backend"
	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/policy"
	"github.com/rf-almeida/cortegrid/internal/session"
)

type GridHandler struct {
	sessions map[model.Category]*session.Session
	logger   *slog.Logger
}

func NewGridHandler(sessions map[model.Category]*session.Session, logger *slog.Logger) *GridHandler {
	return &GridHandler{sessions: sessions, logger: logger}
}

type bookRequest struct {
	Category     string `json:"category"`
	Day          string `json:"day"`
	Time         string `json:"time"`
	WithCooldown bool   `json:"with_cooldown"`
}

type cancelRequest struct {
	Category string `json:"category"`
	Day      string `json:"day"`
	Time     string `json:"time"`
}

type toggleRequest struct {
	Category string `json:"category"`
	Day      string `json:"day"`
	Time     string `json:"time"`
	Blocked  bool   `json:"blocked"`
}

func viewerFrom(r *http.Request) model.Identity {
	return model.Identity{
		ID:    strings.TrimSpace(r.Header.Get("X-User-Id")),
		AltID: strings.TrimSpace(r.Header.Get("X-Alt-Id")),
	}
}

func (h *GridHandler) sessionFor(w http.ResponseWriter, raw string) (*session.Session, bool) {
	category, ok := model.ParseCategory(strings.TrimSpace(raw))
	if !ok {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return nil, false
	}
	sess, ok := h.sessions[category]
	if !ok {
		http.Error(w, "category not served", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// Grid returns the resolved weekly view for the calling user.
func (h *GridHandler) Grid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := h.sessionFor(w, r.URL.Query().Get("category"))
	if !ok {
		return
	}

	viewer := sess.ResolveViewer(r.Context(), viewerFrom(r))
	writeJSON(w, http.StatusOK, sess.Grid(viewer))
}

// Stream pushes the resolved view over SSE whenever the slot store
// republishes a snapshot.
func (h *GridHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := h.sessionFor(w, r.URL.Query().Get("category"))
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	viewer := sess.ResolveViewer(r.Context(), viewerFrom(r))
	snapshots, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func() bool {
		body, err := json.Marshal(sess.Grid(viewer))
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-snapshots:
			if !open {
				return
			}
			if !writeEvent() {
				return
			}
		}
	}
}

// Book attempts a booking for the calling user.
func (h *GridHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, ok := h.sessionFor(w, req.Category)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Day) == "" || strings.TrimSpace(req.Time) == "" {
		http.Error(w, "day and time required", http.StatusBadRequest)
		return
	}
	viewer := sess.ResolveViewer(r.Context(), viewerFrom(r))
	if viewer.ID == "" && viewer.AltID == "" {
		http.Error(w, "user identity required", http.StatusUnauthorized)
		return
	}

	booking, err := sess.Book(r.Context(), viewer, model.DayKey(req.Day), req.Time, req.WithCooldown)
	if err != nil {
		h.writeError(w, err, "failed to create booking")
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Cancel cancels the calling user's booking at (day, time).
func (h *GridHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, ok := h.sessionFor(w, req.Category)
	if !ok {
		return
	}
	viewer := sess.ResolveViewer(r.Context(), viewerFrom(r))
	if viewer.ID == "" && viewer.AltID == "" {
		http.Error(w, "user identity required", http.StatusUnauthorized)
		return
	}

	if err := sess.Cancel(r.Context(), viewer, model.DayKey(req.Day), req.Time); err != nil {
		h.writeError(w, err, "failed to cancel booking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Toggle is the admin enable/disable path; requires the admin role header
// set by the gateway.
func (h *GridHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-Role") != "admin" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, ok := h.sessionFor(w, req.Category)
	if !ok {
		return
	}

	if err := sess.ToggleSlot(r.Context(), model.DayKey(req.Day), req.Time, req.Blocked); err != nil {
		h.writeError(w, err, "failed to update slot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"blocked": req.Blocked})
}

// writeError maps the error taxonomy onto HTTP: local policy rejections are
// 422, a missing booking is 404, backend rejections pass their status and
// message through, anything else is a 502 with the operation fallback.
func (h *GridHandler) writeError(w http.ResponseWriter, err error, fallback string) {
	if policy.IsRejection(err) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if errors.Is(err, session.ErrNoBooking) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if errors.Is(err, session.ErrInvalidDay) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		http.Error(w, apiErr.Message, apiErr.Status)
		return
	}
	h.logger.Error("request failed", "err", err)
	http.Error(w, fallback, http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
