package progress

import "sync"

// Tracker accumulates batch-level counters and retains the last decoded
// sample for the in-flight item, so the display stays populated across output
// lines that carry no progress information.
type Tracker struct {
	mu sync.Mutex

	totalItems int
	totalBytes int64

	succeeded int
	failed    int
	skipped   int
	moved     int64

	current string
	last    *Sample
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// SetTotals records the planned size of the batch.
func (t *Tracker) SetTotals(items int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalItems = items
	t.totalBytes = bytes
}

// StartItem marks the named item as in flight and resets the retained sample.
func (t *Tracker) StartItem(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = name
	t.last = nil
}

// Observe retains a decoded sample for the in-flight item. Nil samples are
// ignored so callers can pass ParseProgress output straight through.
func (t *Tracker) Observe(s *Sample) {
	if s == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = s
}

// LastSample returns the retained sample for the in-flight item, or nil.
func (t *Tracker) LastSample() *Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) ItemSucceeded(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.succeeded++
	t.moved += bytes
	t.current = ""
	t.last = nil
}

func (t *Tracker) ItemFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.current = ""
	t.last = nil
}

func (t *Tracker) ItemSkipped(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
	t.moved += bytes
	t.current = ""
	t.last = nil
}

// Counts reports the processed counters so far.
func (t *Tracker) Counts() (succeeded, failed, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded, t.failed, t.skipped
}

// MovedBytes reports the bytes moved (successful and skipped items).
func (t *Tracker) MovedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moved
}
