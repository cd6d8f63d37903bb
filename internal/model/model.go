package model

// DayKey is a canonical weekday key: lowercase, diacritics stripped.
type DayKey string

const (
	Monday    DayKey = "segunda"
	Tuesday   DayKey = "terca"
	Wednesday DayKey = "quarta"
	Thursday  DayKey = "quinta"
	Friday    DayKey = "sexta"
)

// Weekdays returns the five bookable days in grid order.
func Weekdays() []DayKey {
	return []DayKey{Monday, Tuesday, Wednesday, Thursday, Friday}
}

// WeekdayIndex maps a canonical day key to its offset from Monday.
func WeekdayIndex(day DayKey) (int, bool) {
	switch day {
	case Monday:
		return 0, true
	case Tuesday:
		return 1, true
	case Wednesday:
		return 2, true
	case Thursday:
		return 3, true
	case Friday:
		return 4, true
	}
	return 0, false
}

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotBooked      SlotStatus = "BOOKED"
	SlotUnavailable SlotStatus = "UNAVAILABLE"
	SlotDone        SlotStatus = "DONE"
	SlotRescheduled SlotStatus = "RESCHEDULED"
)

// Slot is one bookable (day, time) unit within a category's weekly grid.
// OwnerID is a lookup key only; it implies nothing about ownership on its own.
// RecordID is assigned by the server and absent until the slot is persisted.
type Slot struct {
	Day      DayKey     `json:"day"`
	Time     string     `json:"time"`
	Status   SlotStatus `json:"status"`
	OwnerID  string     `json:"owner_id,omitempty"`
	RecordID string     `json:"record_id,omitempty"`
}

// Category partitions the grid (each cohort has an independent slot grid).
type Category string

const (
	CategoryEnlisted Category = "enlisted"
	CategoryOfficer  Category = "officer"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryEnlisted, CategoryOfficer:
		return Category(s), true
	}
	return "", false
}

type BookingStatus string

const (
	BookingScheduled BookingStatus = "SCHEDULED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingDone      BookingStatus = "DONE"
)

// Owner is the normalized booking-owner record. Different backend endpoints
// return differently shaped owner payloads (full profile vs an ad hoc
// identifier field), so both identifiers are optional and either one is
// enough for an ownership match.
type Owner struct {
	ID    string `json:"id,omitempty"`
	AltID string `json:"alt_id,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Booking is a user's reservation of one slot. It references the slot by
// (day, time, category), never by foreign key.
type Booking struct {
	ID       string        `json:"id,omitempty"`
	Date     string        `json:"date,omitempty"` // YYYY-MM-DD
	Day      DayKey        `json:"day"`
	Time     string        `json:"time"`
	Category Category      `json:"category"`
	Owner    Owner         `json:"owner"`
	Status   BookingStatus `json:"status"`
	// Timestamp is the creation instant in epoch millis, used for
	// cooldown arithmetic. Zero when unknown.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Active reports whether the booking still occupies its slot.
func (b Booking) Active() bool {
	return b.Status != BookingCancelled
}

// Identity is the current user's session identity. It is only ever used for
// ownership comparisons; the core never mutates it.
type Identity struct {
	ID    string
	AltID string
}

// Owns implements the dual-path ownership check: the primary identifier is
// compared first, then the secondary one. Either match is sufficient.
func (id Identity) Owns(o Owner) bool {
	if id.ID != "" && o.ID == id.ID {
		return true
	}
	return id.AltID != "" && o.AltID == id.AltID
}

// CacheKey derives the per-user storage key for the booking cache.
func (id Identity) CacheKey() string {
	if id.ID != "" {
		return id.ID
	}
	return id.AltID
}
