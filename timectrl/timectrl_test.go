package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestTickDriverRunAdvancesSimTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := NewTickDriver(start, 5*time.Second, Accelerated)

	if err := d.Run(context.Background(), 15*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expected := start.Add(15 * time.Second)
	if got := d.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTickDriverNotifiesListenersInOrder(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := NewTickDriver(start, time.Second, Accelerated)

	var order []string
	var ticks []time.Time
	d.AddListener(func(_ context.Context, at time.Time) {
		order = append(order, "first")
		ticks = append(ticks, at)
	})
	d.AddListener(func(_ context.Context, _ time.Time) {
		order = append(order, "second")
	})

	if err := d.Run(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"first", "second", "first", "second"}
	if len(order) != len(want) {
		t.Fatalf("listener calls = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("listener calls = %v, want %v", order, want)
		}
	}
	if !ticks[0].Equal(start.Add(time.Second)) || !ticks[1].Equal(start.Add(2*time.Second)) {
		t.Fatalf("tick times = %v", ticks)
	}
}

func TestTickDriverStopsOnCancel(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := NewTickDriver(start, time.Second, Accelerated)

	ctx, cancel := context.WithCancel(context.Background())
	fired := 0
	d.AddListener(func(_ context.Context, _ time.Time) {
		fired++
		if fired == 3 {
			cancel()
		}
	})

	if err := d.Run(ctx, 0); err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if fired != 3 {
		t.Fatalf("fired = %d, want 3", fired)
	}
}
