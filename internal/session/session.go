// Package session owns the scheduling view for one category: clock offset,
// identity resolution, booking cache, slot store, reconciler and the live
// update bridge, with explicit start and teardown. It is the context object
// that replaces the original UI's module-level singletons.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rf-almeida/cortegrid/internal/backend"
	"github.com/rf-almeida/cortegrid/internal/cache"
	"github.com/rf-almeida/cortegrid/internal/identity"
	"github.com/rf-almeida/cortegrid/internal/live"
	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/policy"
	"github.com/rf-almeida/cortegrid/internal/reconcile"
	"github.com/rf-almeida/cortegrid/internal/store"
	"github.com/rf-almeida/cortegrid/internal/timeutil"
)

var (
	ErrNoBooking  = errors.New("no active booking for this slot")
	ErrInvalidDay = errors.New("unknown weekday")
)

// GateClosedNotice is the fixed message shown while the staff operating-hours
// gate is closed.
const GateClosedNotice = "Booking is available Monday to Friday during barbershop working hours."

type Session struct {
	logger   *slog.Logger
	backend  *backend.Client
	cache    cache.Store
	resolver *identity.Resolver
	cfg      policy.Config
	category model.Category

	store *store.Store
	rec   *reconcile.Reconciler

	mu       sync.RWMutex
	clock    policy.Clock
	window   policy.Window
	degraded bool // weekly booking fetch has never succeeded

	liveCfg    live.Config
	bridgeStop context.CancelFunc
	bridgeDone chan struct{}
}

type Options struct {
	Category        model.Category
	Backend         *backend.Client
	Cache           cache.Store
	Policy          policy.Config
	Live            live.Config
	IdentityTimeout time.Duration
	Logger          *slog.Logger
}

func New(opts Options) *Session {
	st := store.New(opts.Category)
	return &Session{
		logger:   opts.Logger.With("category", string(opts.Category)),
		backend:  opts.Backend,
		cache:    opts.Cache,
		resolver: identity.NewResolver(opts.Backend, opts.IdentityTimeout, opts.Logger),
		cfg:      opts.Policy,
		category: opts.Category,
		store:    st,
		rec:      reconcile.New(st, opts.Cache),
		liveCfg:  opts.Live,
		degraded: true,
	}
}

// Start measures the server clock offset, loads the booking-window config,
// performs the first grid refresh and opens the live update channel. Every
// step degrades rather than fails: the grid must render even when the
// backend is partially down.
func (s *Session) Start(ctx context.Context) {
	if serverNow, err := s.backend.ServerTime(ctx); err != nil {
		s.logger.Warn("server time fetch failed, using local clock", "err", err)
	} else {
		s.mu.Lock()
		s.clock = policy.NewClock(serverNow, time.Now())
		s.mu.Unlock()
	}

	if window, err := s.backend.FetchWindowConfig(ctx); err != nil {
		s.logger.Warn("window config fetch failed, offering all times", "err", err)
	} else {
		s.mu.Lock()
		s.window = window
		s.mu.Unlock()
	}

	s.Refresh(ctx)

	if s.liveCfg.Brokers != "" {
		bridgeCtx, cancel := context.WithCancel(context.Background())
		s.bridgeStop = cancel
		s.bridgeDone = make(chan struct{})
		bridge := live.New(s.logger, s.liveCfg, func(ctx context.Context) {
			s.Refresh(ctx)
		})
		go func() {
			defer close(s.bridgeDone)
			bridge.Run(bridgeCtx)
		}()
	}
}

// Close tears the session down: the live channel is cancelled and drained so
// no handler outlives the session.
func (s *Session) Close() {
	if s.bridgeStop != nil {
		s.bridgeStop()
		<-s.bridgeDone
	}
}

// Refresh refetches the full grid and weekly bookings and replaces both
// local copies. Independent refreshes may complete out of order; each one
// replaces the whole state with its own authoritative snapshot, so the last
// write wins by construction.
func (s *Session) Refresh(ctx context.Context) {
	if slots, err := s.backend.FetchGrid(ctx, s.category); err != nil {
		s.logger.Warn("grid fetch failed, keeping last snapshot", "err", err)
	} else {
		s.store.Replace(slots)
	}

	if bookings, err := s.backend.FetchBookings(ctx, s.category); err != nil {
		s.logger.Warn("bookings fetch failed, keeping last list", "err", err)
	} else {
		s.rec.SetBookings(bookings)
		s.mu.Lock()
		s.degraded = false
		s.mu.Unlock()
	}
}

// ResolveViewer resolves the caller's identity with the bounded fetch and
// fallback path, and rotates the booking-cache key when the reconciled
// identity differs from the hinted one so stale cross-user data is cleared.
func (s *Session) ResolveViewer(ctx context.Context, hint model.Identity) model.Identity {
	viewer, degradedID := s.resolver.Resolve(ctx, hint)

	oldKey, newKey := cache.Key(hint), cache.Key(viewer)
	if !degradedID && oldKey != newKey {
		owned, err := s.cache.Load(ctx, newKey)
		if err != nil {
			s.logger.Warn("cache load failed during key rotation", "err", err)
		}
		if err := s.cache.Rotate(ctx, oldKey, newKey, owned); err != nil {
			s.logger.Warn("cache key rotation failed", "err", err)
		}
	}

	// Cold start with the backend down: the viewer's persisted bookings are
	// the last known good state, good enough to render ownership.
	s.mu.RLock()
	degraded := s.degraded
	s.mu.RUnlock()
	if degraded {
		if cached, err := s.cache.Load(ctx, newKey); err == nil && len(cached) > 0 {
			s.rec.MergeBookings(cached)
		}
	}
	return viewer
}

// View is a resolved snapshot of the grid for one viewer.
type View struct {
	Category       model.Category                    `json:"category"`
	BookingEnabled bool                              `json:"booking_enabled"`
	Notice         string                            `json:"notice,omitempty"`
	Days           map[model.DayKey][]reconcile.Cell `json:"days"`
}

// Grid resolves every offered cell for the viewer. Times outside the
// configured booking window are not offered at all; while the operating-hours
// gate is closed all actions are disabled grid-wide.
func (s *Session) Grid(viewer model.Identity) View {
	s.mu.RLock()
	clock := s.clock
	window := s.window
	s.mu.RUnlock()

	resolved := s.rec.ResolveGrid(viewer)
	gateOpen := s.cfg.Gate.Open(clock.Now())

	days := make(map[model.DayKey][]reconcile.Cell, len(resolved))
	for day, cells := range resolved {
		kept := make([]reconcile.Cell, 0, len(cells))
		for _, cell := range cells {
			if !window.Contains(cell.Time) {
				continue
			}
			if !gateOpen {
				switch cell.Action {
				case reconcile.ActionBook, reconcile.ActionCancel:
					cell.Action = reconcile.ActionNone
				}
			}
			kept = append(kept, cell)
		}
		days[day] = kept
	}

	view := View{Category: s.category, BookingEnabled: gateOpen, Days: days}
	if !gateOpen {
		view.Notice = GateClosedNotice
	}
	return view
}

// ResolveCell exposes the reconciler's per-cell result.
func (s *Session) ResolveCell(viewer model.Identity, day model.DayKey, timeStr string) reconcile.Resolution {
	return s.rec.ResolveCell(viewer, day, timeStr)
}

// Subscribe streams full-grid snapshots; the returned func unsubscribes.
func (s *Session) Subscribe() (<-chan store.Grid, func()) {
	return s.store.Subscribe()
}

// Book runs the full booking flow: operating-hours gate, window membership,
// the ordered policy checks (past target, lead time, optional cooldown,
// commit-time availability re-check), then the server call. Nothing local
// changes until the server confirms; the commit then applies the paired
// cache and store updates together.
func (s *Session) Book(ctx context.Context, viewer model.Identity, day model.DayKey, timeStr string, withCooldown bool) (model.Booking, error) {
	s.mu.RLock()
	clock := s.clock
	window := s.window
	s.mu.RUnlock()

	now := clock.Now()
	if !s.cfg.Gate.Open(now) {
		return model.Booking{}, policy.ErrGateClosed
	}

	day = model.DayKey(timeutil.NormalizeDayKey(string(day)))
	timeStr = timeutil.NormalizeTime(timeStr)
	offset, ok := model.WeekdayIndex(day)
	if !ok {
		return model.Booking{}, fmt.Errorf("%w: %s", ErrInvalidDay, day)
	}
	if !window.Contains(timeStr) {
		return model.Booking{}, policy.ErrUnavailable
	}

	monday := timeutil.WeekMonday(now)
	target := timeutil.TargetInstant(monday, offset, timeStr)

	var lastBooking *time.Time
	if withCooldown {
		last, err := s.backend.LastBooking(ctx, viewer.ID)
		if err != nil {
			return model.Booking{}, err
		}
		if last != nil && last.Timestamp > 0 {
			t := time.UnixMilli(last.Timestamp)
			lastBooking = &t
		}
	}

	err := policy.CheckBooking(target, now, lastBooking, s.cfg, func() bool {
		slot, ok := s.store.SlotAt(day, timeStr)
		if !ok || slot.Status != model.SlotAvailable {
			return false
		}
		_, taken := s.rec.FindActive(day, timeStr)
		return !taken
	})
	if err != nil {
		return model.Booking{}, err
	}

	created, err := s.backend.CreateBooking(ctx, model.Booking{
		Date:      monday.AddDate(0, 0, offset).Format("2006-01-02"),
		Day:       day,
		Time:      timeStr,
		Category:  s.category,
		Owner:     model.Owner{ID: viewer.ID, AltID: viewer.AltID},
		Status:    model.BookingScheduled,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return model.Booking{}, err
	}
	if created.Owner.ID == "" && created.Owner.AltID == "" {
		created.Owner = model.Owner{ID: viewer.ID, AltID: viewer.AltID}
	}

	if err := s.rec.CommitBooking(ctx, created); err != nil {
		s.logger.Error("booking cache persist failed", "err", err, "booking", created.ID)
	}
	return created, nil
}

// Cancel cancels the viewer's own booking at (day, time), subject to the
// cancellation lead time. Confirm-then-apply, like Book.
func (s *Session) Cancel(ctx context.Context, viewer model.Identity, day model.DayKey, timeStr string) error {
	s.mu.RLock()
	clock := s.clock
	s.mu.RUnlock()

	now := clock.Now()
	if !s.cfg.Gate.Open(now) {
		return policy.ErrGateClosed
	}

	day = model.DayKey(timeutil.NormalizeDayKey(string(day)))
	timeStr = timeutil.NormalizeTime(timeStr)
	booking, ok := s.rec.FindActive(day, timeStr)
	if !ok {
		return ErrNoBooking
	}

	offset, dayOK := model.WeekdayIndex(day)
	if !dayOK {
		return fmt.Errorf("%w: %s", ErrInvalidDay, day)
	}
	target := timeutil.TargetInstant(timeutil.WeekMonday(now), offset, timeStr)
	if err := policy.CheckCancellation(viewer.Owns(booking.Owner), target, now, s.cfg); err != nil {
		return err
	}

	if err := s.backend.CancelBooking(ctx, booking.ID); err != nil {
		return err
	}
	if err := s.rec.CommitCancellation(ctx, day, timeStr, booking.ID); err != nil {
		s.logger.Error("cancellation cache persist failed", "err", err, "booking", booking.ID)
	}
	return nil
}

// ToggleSlot is the admin enable/disable path. Unlike bookings it applies
// optimistically and rolls back on server rejection: a slot-status toggle is
// low-risk to revert, a false "booked" state is not.
func (s *Session) ToggleSlot(ctx context.Context, day model.DayKey, timeStr string, blocked bool) error {
	day = model.DayKey(timeutil.NormalizeDayKey(string(day)))
	timeStr = timeutil.NormalizeTime(timeStr)

	prev, had := s.store.SlotAt(day, timeStr)
	next := model.SlotAvailable
	if blocked {
		next = model.SlotUnavailable
	}
	s.store.PatchOne(day, timeStr, store.Patch{Status: next})

	if err := s.backend.SetSlotBlocked(ctx, s.category, day, timeStr, blocked); err != nil {
		rollback := prev.Status
		if !had {
			rollback = model.SlotUnavailable
		}
		prevOwner := prev.OwnerID
		s.store.PatchOne(day, timeStr, store.Patch{Status: rollback, OwnerID: &prevOwner})
		return err
	}
	return nil
}

// Clock exposes the corrected clock for callers that format times.
func (s *Session) Clock() policy.Clock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

func (s *Session) Category() model.Category {
	return s.category
}
