// Package store is the single source of truth for one category's weekly slot
// grid. Writers go through Replace and PatchOne; every write republishes a
// full-grid snapshot to all subscribers. Last write wins.
package store

import (
	"sort"
	"sync"

	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/timeutil"
)

// Grid is a full snapshot: weekday -> slots ordered ascending by time.
type Grid map[model.DayKey][]model.Slot

// Patch is a partial slot update. Zero-valued fields are left untouched;
// pointer fields distinguish "leave" (nil) from "clear" (pointer to empty).
type Patch struct {
	Status   model.SlotStatus
	OwnerID  *string
	RecordID *string
}

type Store struct {
	category model.Category

	mu   sync.RWMutex
	days map[model.DayKey][]model.Slot

	subMu   sync.Mutex
	subs    map[int]chan Grid
	nextSub int
}

func New(category model.Category) *Store {
	return &Store{
		category: category,
		days:     make(map[model.DayKey][]model.Slot),
		subs:     make(map[int]chan Grid),
	}
}

func (s *Store) Category() model.Category {
	return s.category
}

// Replace overwrites the entire grid with an authoritative snapshot. Times
// and day keys are normalized on the way in; at most one record is kept per
// (day, time) pair (first wins) and each day is ordered ascending by time.
func (s *Store) Replace(slots []model.Slot) {
	days := make(map[model.DayKey][]model.Slot)
	seen := make(map[string]bool, len(slots))
	for _, slot := range slots {
		slot.Day = model.DayKey(timeutil.NormalizeDayKey(string(slot.Day)))
		slot.Time = timeutil.NormalizeTime(slot.Time)
		key := string(slot.Day) + "|" + slot.Time
		if seen[key] {
			continue
		}
		seen[key] = true
		days[slot.Day] = append(days[slot.Day], slot)
	}
	for day := range days {
		list := days[day]
		sort.SliceStable(list, func(i, j int) bool {
			return timeutil.ToMinutes(list[i].Time) < timeutil.ToMinutes(list[j].Time)
		})
	}

	s.mu.Lock()
	s.days = days
	s.mu.Unlock()
	s.publish()
}

// PatchOne merges a partial update into the slot at (day, time), appending a
// new record when no time matches. The whole grid is republished, not just
// the affected day, so snapshot-diffing consumers stay consistent.
func (s *Store) PatchOne(day model.DayKey, timeStr string, patch Patch) {
	day = model.DayKey(timeutil.NormalizeDayKey(string(day)))
	timeStr = timeutil.NormalizeTime(timeStr)

	s.mu.Lock()
	list := s.days[day]
	idx := -1
	for i := range list {
		if timeutil.NormalizeTime(list[i].Time) == timeStr {
			idx = i
			break
		}
	}
	if idx < 0 {
		list = append(list, model.Slot{Day: day, Time: timeStr})
		idx = len(list) - 1
	}
	applyPatch(&list[idx], patch)
	sort.SliceStable(list, func(i, j int) bool {
		return timeutil.ToMinutes(list[i].Time) < timeutil.ToMinutes(list[j].Time)
	})
	s.days[day] = list
	s.mu.Unlock()
	s.publish()
}

func applyPatch(slot *model.Slot, patch Patch) {
	if patch.Status != "" {
		slot.Status = patch.Status
	}
	if patch.OwnerID != nil {
		slot.OwnerID = *patch.OwnerID
	}
	if patch.RecordID != nil {
		slot.RecordID = *patch.RecordID
	}
}

// SlotAt returns the recorded slot for (day, time), if any.
func (s *Store) SlotAt(day model.DayKey, timeStr string) (model.Slot, bool) {
	day = model.DayKey(timeutil.NormalizeDayKey(string(day)))
	timeStr = timeutil.NormalizeTime(timeStr)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.days[day] {
		if timeutil.NormalizeTime(slot.Time) == timeStr {
			return slot, true
		}
	}
	return model.Slot{}, false
}

// Snapshot returns a deep copy of the current grid.
func (s *Store) Snapshot() Grid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Grid {
	out := make(Grid, len(s.days))
	for day, list := range s.days {
		cp := make([]model.Slot, len(list))
		copy(cp, list)
		out[day] = cp
	}
	return out
}

// Subscribe registers a full-snapshot stream. The channel holds only the
// latest snapshot: a slow consumer is skipped ahead rather than stalling
// writers. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Grid, func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Grid, 1)
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) publish() {
	snap := s.Snapshot()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Stale snapshot still queued; swap it for the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
