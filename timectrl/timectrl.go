// Package timectrl drives the simulation tick loop. The live twin only
// moves when a tick fires, so everything that needs to happen per step
// registers a listener here.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock exposes simulation time to components that must not read the
// wall clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TickDriver advances simulation time.
type Mode int

const (
	// RealTime fires one tick per tick duration of wall-clock time.
	RealTime Mode = iota
	// Accelerated fires ticks as fast as the listeners can absorb them;
	// simulation time still steps by exactly one tick per fire.
	Accelerated
)

// TickDriver advances simulation time and notifies listeners in
// registration order. It implements SimClock.
type TickDriver struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(context.Context, time.Time)
}

// NewTickDriver constructs a driver.
func NewTickDriver(start time.Time, tick time.Duration, mode Mode) *TickDriver {
	return &TickDriver{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (d *TickDriver) Now() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentTime
}

// AddListener registers a callback invoked on every tick. Listeners run
// sequentially on the driver goroutine, so a tick never overlaps the
// previous one.
func (d *TickDriver) AddListener(fn func(context.Context, time.Time)) {
	d.listeners = append(d.listeners, fn)
}

// Run fires ticks until the context is cancelled or the given amount of
// simulation time has elapsed; duration <= 0 runs until cancellation.
func (d *TickDriver) Run(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	simTime := d.StartTime
	d.currentTime = simTime
	d.mu.Unlock()

	var tickerC <-chan time.Time
	if d.Mode == RealTime {
		ticker := time.NewTicker(d.Tick)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	elapsed := time.Duration(0)
	for {
		if duration > 0 && elapsed >= duration {
			return nil
		}

		if tickerC != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tickerC:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		simTime = simTime.Add(d.Tick)
		elapsed += d.Tick

		d.mu.Lock()
		d.currentTime = simTime
		d.mu.Unlock()

		for _, fn := range d.listeners {
			fn(ctx, simTime)
		}
	}
}
