package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rf-almeida/cortegrid/internal/backend"
	"github.com/rf-almeida/cortegrid/internal/cache"
	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/policy"
	"github.com/rf-almeida/cortegrid/internal/session"
)

func newBackendStub(t *testing.T, failCreate bool) *httptest.Server {
	t.Helper()
	serverNow := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"epoch_ms": serverNow.UnixMilli()})
	})
	mux.HandleFunc("/api/v1/config/window", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"open_minute": 0, "close_minute": 0})
	})
	mux.HandleFunc("/api/v1/slots", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]map[string]string{
			"sexta": {{"time": "12:00", "status": "AVAILABLE"}},
		})
	})
	mux.HandleFunc("/api/v1/bookings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if failCreate {
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "slot already booked"})
				return
			}
			var b model.Booking
			_ = json.NewDecoder(r.Body).Decode(&b)
			b.ID = "b-1"
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(b)
			return
		}
		_ = json.NewEncoder(w).Encode([]model.Booking{})
	})
	mux.HandleFunc("/api/v1/bookings/cancel", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/slots/toggle", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": r.URL.Query().Get("user_id")})
	})
	return httptest.NewServer(mux)
}

func newHandler(t *testing.T, failCreate bool, gate policy.Gate) (*GridHandler, func()) {
	t.Helper()
	srv := newBackendStub(t, failCreate)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.New(session.Options{
		Category: model.CategoryEnlisted,
		Backend:  backend.New(srv.URL),
		Cache:    cache.NewMemory(),
		Policy: policy.Config{
			LeadTime:       15 * time.Minute,
			CancelLeadTime: 15 * time.Minute,
			Gate:           gate,
		},
		Logger: logger,
	})
	sess.Start(t.Context())

	h := NewGridHandler(map[model.Category]*session.Session{model.CategoryEnlisted: sess}, logger)
	return h, func() {
		sess.Close()
		srv.Close()
	}
}

func openGate() policy.Gate {
	days := make(map[time.Weekday]bool)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days[d] = true
	}
	return policy.Gate{Days: days, CloseMinute: 24*60 - 1}
}

func TestGrid_ReturnsResolvedView(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/grid?category=enlisted", nil)
	req.Header.Set("X-User-Id", "123")
	rr := httptest.NewRecorder()
	h.Grid(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view struct {
		Category       string                       `json:"category"`
		BookingEnabled bool                         `json:"booking_enabled"`
		Days           map[string][]json.RawMessage `json:"days"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Category != "enlisted" || !view.BookingEnabled {
		t.Fatalf("unexpected view header: %+v", view)
	}
	if len(view.Days["sexta"]) != 1 {
		t.Fatalf("expected one sexta cell, got %+v", view.Days)
	}
}

func TestGrid_UnknownCategoryRejected(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/grid?category=cavalry", nil)
	rr := httptest.NewRecorder()
	h.Grid(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/grid?category=officer", nil)
	rr = httptest.NewRecorder()
	h.Grid(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unserved category, got %d", rr.Code)
	}
}

func TestBook_RequiresIdentity(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	body := `{"category":"enlisted","day":"sexta","time":"12:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/book", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Book(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestBook_CreatesAndReturnsBooking(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	body := `{"category":"enlisted","day":"sexta","time":"12:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/book", strings.NewReader(body))
	req.Header.Set("X-User-Id", "123")
	rr := httptest.NewRecorder()
	h.Book(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created model.Booking
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	if created.ID != "b-1" || created.Owner.ID != "123" {
		t.Fatalf("unexpected booking: %+v", created)
	}
}

func TestBook_PolicyRejectionIs422(t *testing.T) {
	h, done := newHandler(t, false, policy.Gate{Days: map[time.Weekday]bool{}})
	defer done()

	body := `{"category":"enlisted","day":"sexta","time":"12:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/book", strings.NewReader(body))
	req.Header.Set("X-User-Id", "123")
	rr := httptest.NewRecorder()
	h.Book(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for closed gate, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestBook_BackendStatusPassesThrough(t *testing.T) {
	h, done := newHandler(t, true, openGate())
	defer done()

	body := `{"category":"enlisted","day":"sexta","time":"12:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/book", strings.NewReader(body))
	req.Header.Set("X-User-Id", "123")
	rr := httptest.NewRecorder()
	h.Book(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 passthrough, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "slot already booked") {
		t.Fatalf("server message lost: %s", rr.Body.String())
	}
}

func TestCancel_NoBookingIs404(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	body := `{"category":"enlisted","day":"sexta","time":"12:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cancel", strings.NewReader(body))
	req.Header.Set("X-User-Id", "123")
	rr := httptest.NewRecorder()
	h.Cancel(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestToggle_RequiresAdminRole(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	body := `{"category":"enlisted","day":"sexta","time":"12:00","blocked":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots/toggle", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Toggle(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without role, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/slots/toggle", strings.NewReader(body))
	req.Header.Set("X-Role", "admin")
	rr = httptest.NewRecorder()
	h.Toggle(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with role, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, done := newHandler(t, false, openGate())
	defer done()

	rr := httptest.NewRecorder()
	h.Book(rr, httptest.NewRequest(http.MethodGet, "/api/v1/book", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
