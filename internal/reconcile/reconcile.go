// Package reconcile computes the effective state of every grid cell by
// reconciling the locally held bookings against the slot store. An active
// booking always dominates raw slot status: slot-status flags can lag behind
// booking creation and cancellation, so bookings are the more authoritative
// signal when both exist for a cell.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/rf-almeida/cortegrid/internal/cache"
	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/store"
	"github.com/rf-almeida/cortegrid/internal/timeutil"
)

type Color string

const (
	ColorPrimary  Color = "primary"
	ColorAccent   Color = "accent"
	ColorBasic    Color = "basic"
	ColorDisabled Color = "disabled"
)

type Action string

const (
	ActionBook     Action = "book"
	ActionCancel   Action = "cancel"
	ActionOccupied Action = "occupied"
	ActionNone     Action = "none"
)

// Resolution is the {color, label, action} triple driving one grid cell.
type Resolution struct {
	Color  Color  `json:"color"`
	Label  string `json:"label"`
	Action Action `json:"action"`
}

var (
	resAvailable   = Resolution{Color: ColorPrimary, Label: "Available", Action: ActionBook}
	resOwnBooking  = Resolution{Color: ColorAccent, Label: "Booked", Action: ActionCancel}
	resOccupied    = Resolution{Color: ColorBasic, Label: "Booked", Action: ActionOccupied}
	resUnavailable = Resolution{Color: ColorDisabled, Label: "Unavailable", Action: ActionNone}
)

// Reconciler pairs a category's slot store with the weekly booking list and
// keeps the two consistent across commits. The commit methods perform their
// two-part updates (cache + store) under one lock so no reader ever observes
// a booked-looking slot without its booking, or the reverse.
type Reconciler struct {
	store   *store.Store
	persist cache.Store

	mu       sync.RWMutex
	bookings []model.Booking
}

func New(st *store.Store, persist cache.Store) *Reconciler {
	return &Reconciler{store: st, persist: persist}
}

// SetBookings swaps in a freshly fetched weekly booking list. Last write wins.
func (r *Reconciler) SetBookings(bookings []model.Booking) {
	cp := make([]model.Booking, len(bookings))
	copy(cp, bookings)
	r.mu.Lock()
	r.bookings = cp
	r.mu.Unlock()
}

// MergeBookings adds bookings not already present by id. Used to fold a
// user's persisted cache back in while the weekly fetch is unavailable.
func (r *Reconciler) MergeBookings(bookings []model.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := make(map[string]bool, len(r.bookings))
	for _, b := range r.bookings {
		if b.ID != "" {
			known[b.ID] = true
		}
	}
	for _, b := range bookings {
		if b.ID != "" && known[b.ID] {
			continue
		}
		r.bookings = append(r.bookings, b)
	}
}

// Bookings returns a copy of the current booking list.
func (r *Reconciler) Bookings() []model.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Booking, len(r.bookings))
	copy(out, r.bookings)
	return out
}

// FindActive returns the first active booking matching (day, time). The
// server should never hold two active bookings for one cell, but a stale
// cache can; first active match wins.
func (r *Reconciler) FindActive(day model.DayKey, timeStr string) (model.Booking, bool) {
	dayKey := timeutil.NormalizeDayKey(string(day))
	timeKey := timeutil.NormalizeTime(timeStr)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return findActiveLocked(r.bookings, dayKey, timeKey)
}

func findActiveLocked(bookings []model.Booking, dayKey, timeKey string) (model.Booking, bool) {
	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		if timeutil.NormalizeDayKey(string(b.Day)) != dayKey {
			continue
		}
		if timeutil.NormalizeTime(b.Time) != timeKey {
			continue
		}
		return b, true
	}
	return model.Booking{}, false
}

// ResolveCell computes the cell result for the given viewer. Precedence:
// active booking (owned or not), then recorded slot status, then unavailable.
func (r *Reconciler) ResolveCell(viewer model.Identity, day model.DayKey, timeStr string) Resolution {
	if booking, ok := r.FindActive(day, timeStr); ok {
		if viewer.Owns(booking.Owner) {
			return resOwnBooking
		}
		return resOccupied
	}

	slot, ok := r.store.SlotAt(day, timeStr)
	if !ok {
		return resUnavailable
	}
	switch slot.Status {
	case model.SlotAvailable:
		return resAvailable
	case model.SlotBooked:
		// Slot flagged booked with no local booking record yet, e.g. the
		// other user's booking has not synced. Treat as occupied.
		return resOccupied
	default:
		return resUnavailable
	}
}

// Cell is one resolved grid entry.
type Cell struct {
	Time string `json:"time"`
	Resolution
}

// ResolveGrid resolves every cell of the current snapshot for the viewer.
func (r *Reconciler) ResolveGrid(viewer model.Identity) map[model.DayKey][]Cell {
	snap := r.store.Snapshot()
	out := make(map[model.DayKey][]Cell, len(snap))
	for day, slots := range snap {
		cells := make([]Cell, 0, len(slots))
		for _, slot := range slots {
			cells = append(cells, Cell{
				Time:       slot.Time,
				Resolution: r.ResolveCell(viewer, day, slot.Time),
			})
		}
		out[day] = cells
	}
	return out
}

// CommitBooking applies a server-confirmed booking: the booking joins the
// local list, the slot flips to BOOKED with the owner recorded, and the
// owner's cache entry is persisted write-through before returning.
func (r *Reconciler) CommitBooking(ctx context.Context, b model.Booking) error {
	b.Day = model.DayKey(timeutil.NormalizeDayKey(string(b.Day)))
	b.Time = timeutil.NormalizeTime(b.Time)
	if b.Status == "" {
		b.Status = model.BookingScheduled
	}

	r.mu.Lock()
	r.bookings = append(r.bookings, b)
	ownerID := b.Owner.ID
	r.store.PatchOne(b.Day, b.Time, store.Patch{
		Status:  model.SlotBooked,
		OwnerID: &ownerID,
	})
	owned := ownedByLocked(r.bookings, b.Owner)
	r.mu.Unlock()

	return r.persistOwner(ctx, b.Owner, owned)
}

// CommitCancellation marks the booking cancelled (it is retained for history
// views), restores the slot to AVAILABLE with its owner cleared, and persists
// the owner's cache entry.
func (r *Reconciler) CommitCancellation(ctx context.Context, day model.DayKey, timeStr, bookingID string) error {
	dayKey := timeutil.NormalizeDayKey(string(day))
	timeKey := timeutil.NormalizeTime(timeStr)

	r.mu.Lock()
	var owner model.Owner
	found := false
	for i := range r.bookings {
		b := &r.bookings[i]
		if bookingID != "" && b.ID != bookingID {
			continue
		}
		if bookingID == "" {
			if !b.Active() || timeutil.NormalizeDayKey(string(b.Day)) != dayKey || timeutil.NormalizeTime(b.Time) != timeKey {
				continue
			}
		}
		b.Status = model.BookingCancelled
		owner = b.Owner
		found = true
		break
	}
	empty := ""
	r.store.PatchOne(model.DayKey(dayKey), timeKey, store.Patch{
		Status:  model.SlotAvailable,
		OwnerID: &empty,
	})
	var owned []model.Booking
	if found {
		owned = ownedByLocked(r.bookings, owner)
	}
	r.mu.Unlock()

	if !found {
		return fmt.Errorf("no booking for %s %s", dayKey, timeKey)
	}
	return r.persistOwner(ctx, owner, owned)
}

// ownedByLocked filters the bookings belonging to the given owner. Active
// bookings only: a cancelled booking must not resurface after a reload.
func ownedByLocked(bookings []model.Booking, owner model.Owner) []model.Booking {
	id := model.Identity{ID: owner.ID, AltID: owner.AltID}
	var out []model.Booking
	for _, b := range bookings {
		if b.Active() && id.Owns(b.Owner) {
			out = append(out, b)
		}
	}
	return out
}

func (r *Reconciler) persistOwner(ctx context.Context, owner model.Owner, bookings []model.Booking) error {
	if r.persist == nil {
		return nil
	}
	key := cache.Key(model.Identity{ID: owner.ID, AltID: owner.AltID})
	return r.persist.Save(ctx, key, bookings)
}
