package cache

import (
	"context"
	"testing"

	"github.com/rf-almeida/cortegrid/internal/model"
)

func TestKey(t *testing.T) {
	if got := Key(model.Identity{ID: "123"}); got != "bookings:123" {
		t.Fatalf("Key = %q", got)
	}
	if got := Key(model.Identity{AltID: "war-77"}); got != "bookings:war-77" {
		t.Fatalf("fallback Key = %q", got)
	}
}

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if got, err := m.Load(ctx, "bookings:123"); err != nil || got != nil {
		t.Fatalf("empty load = %v, %v", got, err)
	}

	bookings := []model.Booking{{ID: "b-1", Day: "segunda", Time: "08:00"}}
	if err := m.Save(ctx, "bookings:123", bookings); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Load(ctx, "bookings:123")
	if err != nil || len(got) != 1 || got[0].ID != "b-1" {
		t.Fatalf("load = %+v, %v", got, err)
	}

	// The stored copy is isolated from later caller mutations.
	bookings[0].ID = "mutated"
	got, _ = m.Load(ctx, "bookings:123")
	if got[0].ID != "b-1" {
		t.Fatal("stored entry aliased caller slice")
	}
}

func TestMemory_RotateClearsOldKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Save(ctx, "bookings:stale", []model.Booking{{ID: "b-old"}})

	if err := m.Rotate(ctx, "bookings:stale", "bookings:123", []model.Booking{{ID: "b-new"}}); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if got, _ := m.Load(ctx, "bookings:stale"); got != nil {
		t.Fatalf("stale key survived rotation: %+v", got)
	}
	got, _ := m.Load(ctx, "bookings:123")
	if len(got) != 1 || got[0].ID != "b-new" {
		t.Fatalf("rotated entry wrong: %+v", got)
	}
}
