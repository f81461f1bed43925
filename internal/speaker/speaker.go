// Package speaker picks the loudest participant from rolling audio energy
// levels. It is advisory only and never affects signaling.
package speaker

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	// smoothing is the weight of a new observation in the rolling level.
	smoothing = 0.3
	// staleAfter drops a meter's level to zero when no audio arrived for
	// that long, so a peer that stops sending does not stay active.
	staleAfter = 500 * time.Millisecond
)

// Meter tracks a rolling audio energy level in [0, 1].
type Meter struct {
	mu       sync.Mutex
	level    float64
	hasAudio bool
	updated  time.Time
}

func NewMeter() *Meter {
	return &Meter{}
}

// Observe folds one energy sample into the rolling level.
func (m *Meter) Observe(energy float64) {
	if energy < 0 {
		energy = 0
	} else if energy > 1 {
		energy = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasAudio {
		m.level = energy
		m.hasAudio = true
	} else {
		m.level += smoothing * (energy - m.level)
	}
	m.updated = time.Now()
}

// Level returns the current level and whether the meter has seen audio.
func (m *Meter) Level() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasAudio {
		return 0, false
	}
	if time.Since(m.updated) > staleAfter {
		return 0, true
	}
	return m.level, true
}

// Detector samples registered meters periodically and reports the id of
// the loudest one whenever it changes. An empty id means nobody is audible.
type Detector struct {
	interval time.Duration
	onChange func(id string)

	mu      sync.Mutex
	meters  map[string]*Meter
	current string
}

func NewDetector(interval time.Duration, onChange func(id string)) *Detector {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Detector{
		interval: interval,
		onChange: onChange,
		meters:   make(map[string]*Meter),
	}
}

func (d *Detector) Add(id string, m *Meter) {
	d.mu.Lock()
	d.meters[id] = m
	d.mu.Unlock()
}

// Remove unregisters id if it is still bound to m.
func (d *Detector) Remove(id string, m *Meter) {
	d.mu.Lock()
	if d.meters[id] == m {
		delete(d.meters, id)
	}
	d.mu.Unlock()
}

// Active returns the id chosen by the last tick.
func (d *Detector) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Tick samples every meter once. Meters without audio are skipped.
func (d *Detector) Tick() string {
	d.mu.Lock()
	ids := make([]string, 0, len(d.meters))
	for id := range d.meters {
		ids = append(ids, id)
	}
	// Stable winner on ties.
	sort.Strings(ids)

	best, bestLevel := "", 0.0
	for _, id := range ids {
		level, ok := d.meters[id].Level()
		if !ok {
			continue
		}
		if level > bestLevel {
			best, bestLevel = id, level
		}
	}

	changed := best != d.current
	d.current = best
	d.mu.Unlock()

	if changed && d.onChange != nil {
		d.onChange(best)
	}
	return best
}

// Run ticks until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}
