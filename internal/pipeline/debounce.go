package pipeline

import (
	"strings"
	"sync"
	"time"
)

// commitToken is handed to the fire callback when the quiet period elapses.
// Seq identifies the arming Observe call; the run loop discards tokens whose
// Seq no longer matches the debouncer's current sequence, so at most one live
// token exists per session.
type commitToken struct {
	Seq  uint64
	Text string
}

// debouncer implements transcript finalization debouncing: each non-empty
// end-of-turn transcript re-arms a quiet-period timer, and only the candidate
// standing when the timer expires is committed. A later end-of-turn before
// expiry supersedes the previous candidate (last write wins).
type debouncer struct {
	quiet time.Duration
	fire  func(commitToken)

	mu        sync.Mutex
	timer     *time.Timer
	seq       uint64
	candidate string
}

// newDebouncer creates a debouncer that calls fire from a timer goroutine
// once a candidate survives the quiet period. fire must be non-blocking or
// post into a channel the caller drains.
func newDebouncer(quiet time.Duration, fire func(commitToken)) *debouncer {
	return &debouncer{quiet: quiet, fire: fire}
}

// Observe records an end-of-turn transcript. An empty or whitespace-only
// transcript is ignored and reported via the false return; it never arms the
// timer. A non-empty transcript becomes the candidate and (re)arms the timer.
func (d *debouncer) Observe(transcript string) bool {
	if strings.TrimSpace(transcript) == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	d.candidate = transcript

	seq := d.seq
	text := transcript
	d.timer = time.AfterFunc(d.quiet, func() {
		d.fire(commitToken{Seq: seq, Text: text})
	})
	return true
}

// Cancel stops any pending timer and discards the candidate without
// committing. Already-fired tokens become stale because the sequence advances.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.candidate = ""
}

// Consume validates a fired token and, when it is the live one, clears the
// candidate so the commit happens exactly once. Stale tokens return false.
func (d *debouncer) Consume(tok commitToken) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tok.Seq != d.seq {
		return false
	}
	d.seq++
	d.candidate = ""
	d.timer = nil
	return true
}

// Pending reports whether a candidate is currently awaiting commit.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.candidate != ""
}
