package speed

import (
	"context"
	"sync"
	"time"
)

const (
	// PairWindow is the longest gap between two sightings that still counts as
	// one vehicle passing.
	PairWindow = 10 * time.Second
	// Retention bounds how long a sighting is kept for pairing.
	Retention = time.Minute
)

// Estimator derives speed from two sightings of the same plate text over a known
// distance. Each worker owns its own instance.
type Estimator struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewEstimator() *Estimator {
	return &Estimator{lastSeen: make(map[string]time.Time)}
}

// EstimateSpeed returns km/h for plate observed at observedAt, or 0 when no
// pair can be formed: first sighting, a gap above PairWindow, or a non-positive
// gap (duplicate or out-of-order timestamps). In every zero case the stored
// sighting becomes observedAt.
func (e *Estimator) EstimateSpeed(plate string, observedAt time.Time, distanceMeters float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, ok := e.lastSeen[plate]
	e.lastSeen[plate] = observedAt
	if !ok {
		return 0
	}

	dt := observedAt.Sub(last)
	if dt <= 0 || dt > PairWindow {
		return 0
	}

	return (distanceMeters / 1000) / dt.Hours()
}

// Cleanup drops sightings older than Retention relative to now and reports how
// many were removed.
func (e *Estimator) Cleanup(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for plate, seen := range e.lastSeen {
		if now.Sub(seen) > Retention {
			delete(e.lastSeen, plate)
			removed++
		}
	}
	return removed
}

func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lastSeen)
}

// LastSeen returns the stored sighting for plate.
func (e *Estimator) LastSeen(plate string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastSeen[plate]
	return t, ok
}

// Run purges stale sightings every interval until ctx is done.
func (e *Estimator) Run(ctx context.Context, interval time.Duration, onCleanup func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := e.Cleanup(now)
			if onCleanup != nil && removed > 0 {
				onCleanup(removed)
			}
		}
	}
}
