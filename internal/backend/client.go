// Package backend wraps the authoritative REST API. Every mutation performed
// here is confirm-then-apply from the caller's point of view: nothing local
// changes until the server has answered.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/policy"
)

// APIError is a structured rejection from the backend. Message carries the
// server's reason when it sent one, otherwise a per-operation fallback.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
}

// IsConflict reports a booking-state conflict (400/409/422).
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

type Client struct {
	base string
	http *http.Client
}

func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type gridSlot struct {
	Time     string `json:"time"`
	Status   string `json:"status"`
	OwnerID  string `json:"owner_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

// FetchGrid loads the current week's slot records for one category. Times may
// arrive with or without seconds; normalization happens in the slot store.
func (c *Client) FetchGrid(ctx context.Context, category model.Category) ([]model.Slot, error) {
	var days map[string][]gridSlot
	q := url.Values{"category": {string(category)}}
	if err := c.get(ctx, "/api/v1/slots?"+q.Encode(), &days, "failed to load slot grid"); err != nil {
		return nil, err
	}
	var slots []model.Slot
	for day, list := range days {
		for _, gs := range list {
			slots = append(slots, model.Slot{
				Day:      model.DayKey(day),
				Time:     gs.Time,
				Status:   model.SlotStatus(gs.Status),
				OwnerID:  gs.OwnerID,
				RecordID: gs.RecordID,
			})
		}
	}
	return slots, nil
}

// FetchBookings loads the week's active and recently cancelled bookings for a
// category, used to reconcile ownership across the grid.
func (c *Client) FetchBookings(ctx context.Context, category model.Category) ([]model.Booking, error) {
	var bookings []model.Booking
	q := url.Values{"category": {string(category)}}
	if err := c.get(ctx, "/api/v1/bookings?"+q.Encode(), &bookings, "failed to load bookings"); err != nil {
		return nil, err
	}
	return bookings, nil
}

// LastBooking returns the user's most recent prior booking, or nil when none
// exists. Feeds the cooldown rule in the full booking-dialog flow.
func (c *Client) LastBooking(ctx context.Context, userID string) (*model.Booking, error) {
	var b model.Booking
	q := url.Values{"user_id": {userID}}
	err := c.get(ctx, "/api/v1/bookings/last?"+q.Encode(), &b, "failed to load booking history")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// CreateBooking submits a booking and returns the persisted record, including
// the server-assigned id and owner snapshot. An Idempotency-Key header makes
// retries safe.
func (c *Client) CreateBooking(ctx context.Context, b model.Booking) (model.Booking, error) {
	var created model.Booking
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	err := c.post(ctx, "/api/v1/bookings", b, &created, headers, "failed to create booking")
	if err != nil {
		return model.Booking{}, err
	}
	return created, nil
}

// CancelBooking cancels by id. Success has no body.
func (c *Client) CancelBooking(ctx context.Context, bookingID string) error {
	body := map[string]string{"booking_id": bookingID}
	return c.post(ctx, "/api/v1/bookings/cancel", body, nil, nil, "failed to cancel booking")
}

// SetSlotBlocked is the admin slot toggle: blocked flips a cell to
// UNAVAILABLE, unblocked back to AVAILABLE.
func (c *Client) SetSlotBlocked(ctx context.Context, category model.Category, day model.DayKey, timeStr string, blocked bool) error {
	body := map[string]any{
		"category": category,
		"day":      day,
		"time":     timeStr,
		"blocked":  blocked,
	}
	return c.post(ctx, "/api/v1/slots/toggle", body, nil, nil, "failed to update slot")
}

// ServerTime fetches the backend's epoch-millis clock, used once per session
// to measure the client/server offset.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		EpochMs int64 `json:"epoch_ms"`
	}
	if err := c.get(ctx, "/api/v1/time", &resp, "failed to fetch server time"); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.EpochMs), nil
}

// FetchProfile resolves a user's identity record.
func (c *Client) FetchProfile(ctx context.Context, userID string) (model.Identity, error) {
	var resp struct {
		ID    string `json:"id"`
		AltID string `json:"alt_id"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.get(ctx, "/api/v1/profile?"+q.Encode(), &resp, "failed to fetch profile"); err != nil {
		return model.Identity{}, err
	}
	return model.Identity{ID: resp.ID, AltID: resp.AltID}, nil
}

// FetchWindowConfig loads the open/close minute-of-day bounds that decide
// which times the grid offers at all.
func (c *Client) FetchWindowConfig(ctx context.Context) (policy.Window, error) {
	var w policy.Window
	if err := c.get(ctx, "/api/v1/config/window", &w, "failed to fetch booking window"); err != nil {
		return policy.Window{}, err
	}
	return w, nil
}

// ReadyCheck probes the backend's health endpoint.
func (c *Client) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("backend health returned %d", resp.StatusCode)
		}
		return nil
	}
}

func (c *Client) get(ctx context.Context, path string, out any, fallback string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out, fallback)
}

func (c *Client) post(ctx context.Context, path string, body, out any, headers map[string]string, fallback string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out, fallback)
}

func (c *Client) do(req *http.Request, out any, fallback string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, fallback)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response, fallback string) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: fallback}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else if payload.Error != "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}
