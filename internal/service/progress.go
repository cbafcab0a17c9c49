package service

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	progressStart     = 10.0
	progressLoopCeil  = 80.0
	progressReencode  = 90.0
	progressUploading = 95.0
	progressDone      = 100.0
)

// progress tracks a job's percentage. It never goes backwards and publishes
// frame-loop updates at most once per interval.
type progress struct {
	clock    clock.Clock
	interval time.Duration
	last     time.Time
	current  float64
}

func newProgress(clk clock.Clock, interval time.Duration) *progress {
	return &progress{clock: clk, interval: interval, last: clk.Now()}
}

func (p *progress) set(v float64) float64 {
	if v > p.current {
		p.current = v
	}
	return p.current
}

// frame reports the loop progress after consumed of total frames, and whether
// it is due for publishing.
func (p *progress) frame(consumed, total int) (float64, bool) {
	now := p.clock.Now()
	if now.Sub(p.last) < p.interval {
		return p.current, false
	}
	p.last = now

	pct := progressStart + float64(consumed)/float64(max(total, 1))*(progressLoopCeil-progressStart)
	pct = math.Min(pct, progressLoopCeil)
	return p.set(round2(pct)), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
