package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most limit hits per key within any window-long
// span. Keys with no recent hits are swept in the background until Close.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return newSlidingWindow(limit, window, time.Now, window)
}

func newSlidingWindow(limit int, window time.Duration, now func() time.Time, sweepEvery time.Duration) *SlidingWindow {
	w := &SlidingWindow{
		limit:  limit,
		window: window,
		now:    now,
		hits:   make(map[string][]time.Time),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if sweepEvery <= 0 {
		close(w.done)
		return w
	}
	go w.sweepLoop(sweepEvery)
	return w
}

// Allow records a hit for key when it is under the limit. A non-positive
// limit disables limiting.
func (w *SlidingWindow) Allow(key string) bool {
	if w.limit <= 0 || w.window <= 0 {
		return true
	}

	now := w.now()
	windowStart := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	recent := pruned(w.hits[key], windowStart)
	if len(recent) >= w.limit {
		w.hits[key] = recent
		return false
	}
	w.hits[key] = append(recent, now)
	return true
}

func (w *SlidingWindow) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *SlidingWindow) sweepLoop(every time.Duration) {
	defer close(w.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *SlidingWindow) sweep() {
	windowStart := w.now().Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()
	for key, stamps := range w.hits {
		recent := pruned(stamps, windowStart)
		if len(recent) == 0 {
			delete(w.hits, key)
			continue
		}
		w.hits[key] = recent
	}
}

func (w *SlidingWindow) trackedKeys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// pruned drops timestamps at or before windowStart. Stamps are appended in
// order so the survivors are a suffix.
func pruned(stamps []time.Time, windowStart time.Time) []time.Time {
	for i, stamp := range stamps {
		if stamp.After(windowStart) {
			return stamps[i:]
		}
	}
	return stamps[:0]
}
