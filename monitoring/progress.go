package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/tapbridge/sim"
)

// Progress tracks how far a run is toward its stop time.
type Progress struct {
	sync.Mutex
	StartTime time.Time      `json:"start_time"`
	StopAt    sim.VTimeInSec `json:"stop_at"`
}

// ProgressReport is a snapshot of a Progress.
type ProgressReport struct {
	Now       float64 `json:"now"`
	StopAt    float64 `json:"stop_at"`
	Percent   float64 `json:"percent"`
	RealMs    float64 `json:"real_ms"`
	Simulated float64 `json:"simulated_ms"`
}

// Report computes how much of the run is done at the given simulated time.
func (p *Progress) Report(now sim.VTimeInSec) ProgressReport {
	p.Lock()
	defer p.Unlock()

	r := ProgressReport{
		Now:       float64(now),
		StopAt:    float64(p.StopAt),
		Simulated: float64(now) * 1000,
	}

	if !p.StartTime.IsZero() {
		r.RealMs = float64(time.Since(p.StartTime)) / float64(time.Millisecond)
	}

	if p.StopAt > 0 {
		r.Percent = float64(now/p.StopAt) * 100
		if r.Percent > 100 {
			r.Percent = 100
		}
	}

	return r
}
