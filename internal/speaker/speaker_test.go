package speaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterSmoothing(t *testing.T) {
	m := NewMeter()
	_, ok := m.Level()
	assert.False(t, ok)

	m.Observe(1)
	level, ok := m.Level()
	require.True(t, ok)
	assert.InDelta(t, 1.0, level, 1e-9)

	m.Observe(0)
	level, _ = m.Level()
	assert.InDelta(t, 0.7, level, 1e-9)

	m.Observe(5)
	level, _ = m.Level()
	assert.InDelta(t, 0.79, level, 1e-9)
}

func TestMeterGoesStale(t *testing.T) {
	m := NewMeter()
	m.Observe(0.8)
	m.mu.Lock()
	m.updated = time.Now().Add(-time.Second)
	m.mu.Unlock()

	level, ok := m.Level()
	assert.True(t, ok)
	assert.Zero(t, level)
}

func TestDetectorPicksLoudestAndSkipsSilent(t *testing.T) {
	var changes []string
	d := NewDetector(time.Hour, func(id string) { changes = append(changes, id) })

	local, a, b, mute := NewMeter(), NewMeter(), NewMeter(), NewMeter()
	d.Add("local", local)
	d.Add("a", a)
	d.Add("b", b)
	d.Add("video-only", mute)

	assert.Equal(t, "", d.Tick(), "nobody has audio yet")
	assert.Empty(t, changes)

	local.Observe(0.2)
	a.Observe(0.6)
	b.Observe(0.4)
	assert.Equal(t, "a", d.Tick())
	assert.Equal(t, "a", d.Tick())
	assert.Equal(t, []string{"a"}, changes, "only changes are reported")

	d.Remove("a", NewMeter())
	assert.Equal(t, "a", d.Tick(), "a different meter does not unregister a")

	d.Remove("a", a)
	assert.Equal(t, "b", d.Tick())
	assert.Equal(t, "b", d.Active())
	assert.Equal(t, []string{"a", "b"}, changes)
}

func TestDetectorRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewDetector(5*time.Millisecond, func(id string) {
		mu.Lock()
		got = append(got, id)
		mu.Unlock()
	})
	m := NewMeter()
	m.Observe(0.5)
	d.Add("x", m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detector did not stop")
	}
}
