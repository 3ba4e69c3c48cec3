// Package progress tracks byte progress of a single transfer and derives a
// smoothed transfer rate with an ETA projection.
package progress

import (
	"sync"
	"time"
)

const smoothing = 0.3

// Stats is a point-in-time snapshot of one transfer.
type Stats struct {
	Done    int64
	Total   int64
	Rate    float64 // bytes per second, exponentially smoothed
	ETA     time.Duration
	Percent float64
}

// Meter accumulates transferred bytes. The zero value is not usable, use
// NewMeter.
type Meter struct {
	mu      sync.Mutex
	total   int64
	done    int64
	lastAt  time.Time
	lastVal int64
	rate    float64
	now     func() time.Time
}

func NewMeter(total int64) *Meter {
	return newMeterWithNow(total, time.Now)
}

func newMeterWithNow(total int64, now func() time.Time) *Meter {
	t := now()

	return &Meter{
		total:  total,
		lastAt: t,
		now:    now,
	}
}

// Add records n more transferred bytes and resamples the rate.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.done += int64(n)

	now := m.now()
	elapsed := now.Sub(m.lastAt).Seconds()
	if elapsed <= 0 {
		return
	}

	sample := float64(m.done-m.lastVal) / elapsed
	if m.rate == 0 {
		m.rate = sample
	} else {
		m.rate = smoothing*sample + (1-smoothing)*m.rate
	}

	m.lastAt = now
	m.lastVal = m.done
}

// SetTotal replaces the expected total, e.g. once the Content-Length of a
// response is known.
func (m *Meter) SetTotal(total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total = total
}

// Snapshot returns current progress. ETA is zero until a rate is known.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Done:  m.done,
		Total: m.total,
		Rate:  m.rate,
	}

	if m.total > 0 {
		s.Percent = float64(m.done) / float64(m.total) * 100
	}

	if m.rate > 0 && m.total > m.done {
		s.ETA = time.Duration(float64(m.total-m.done)/m.rate) * time.Second
	}

	return s
}
