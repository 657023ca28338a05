package monitoring

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/sarchlab/tapbridge/sim"
)

// QueueAnalyzer tracks how full the transmit queues are over simulated time.
// A queue that stays full points at the link that limits throughput.
type QueueAnalyzer struct {
	timeTeller sim.TimeTeller
	period     float64

	lock   sync.Mutex
	queues map[string]*queueInfo
}

type queueInfo struct {
	buf       sim.Buffer
	lastLevel int
	lastTime  float64
	peak      int

	levelToDuration       map[int]float64
	periodLevelToDuration map[int]float64
	periodIndex           float64
}

func averageLevel(levelToDuration map[int]float64) float64 {
	sum := 0.0
	durationSum := 0.0

	for level, duration := range levelToDuration {
		sum += float64(level) * duration
		durationSum += duration
	}

	if durationSum == 0.0 {
		return 0.0
	}

	return sum / durationSum
}

// QueueStats summarizes the occupancy of one queue.
type QueueStats struct {
	Queue         string  `json:"queue"`
	Level         int     `json:"level"`
	Capacity      int     `json:"capacity"`
	Peak          int     `json:"peak"`
	Average       float64 `json:"average"`
	PeriodAverage float64 `json:"period_average"`
}

// NewQueueAnalyzer creates an analyzer. The period average covers the
// current window of period seconds; a zero period makes it equal to the
// overall average.
func NewQueueAnalyzer(
	timeTeller sim.TimeTeller,
	period sim.VTimeInSec,
) *QueueAnalyzer {
	return &QueueAnalyzer{
		timeTeller: timeTeller,
		period:     float64(period),
		queues:     make(map[string]*queueInfo),
	}
}

// Watch starts tracking a queue.
func (a *QueueAnalyzer) Watch(buf sim.Buffer) {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := float64(a.timeTeller.CurrentTime())

	a.queues[buf.Name()] = &queueInfo{
		buf:                   buf,
		lastLevel:             buf.Size(),
		lastTime:              now,
		peak:                  buf.Size(),
		levelToDuration:       make(map[int]float64),
		periodLevelToDuration: make(map[int]float64),
		periodIndex:           a.periodOf(now),
	}

	buf.AcceptHook(a)
}

func (a *QueueAnalyzer) periodOf(now float64) float64 {
	if a.period <= 0 {
		return 0
	}

	return math.Floor(now / a.period)
}

// Func records a change of queue level.
func (a *QueueAnalyzer) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosBufPush && ctx.Pos != sim.HookPosBufPop {
		return
	}

	buf, ok := ctx.Domain.(sim.Buffer)
	if !ok {
		return
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	info, found := a.queues[buf.Name()]
	if !found {
		return
	}

	a.advance(info, float64(a.timeTeller.CurrentTime()))

	info.lastLevel = buf.Size()
	if info.lastLevel > info.peak {
		info.peak = info.lastLevel
	}
}

func (a *QueueAnalyzer) advance(info *queueInfo, now float64) {
	duration := now - info.lastTime
	if duration < 0 {
		duration = 0
	}

	info.levelToDuration[info.lastLevel] += duration

	period := a.periodOf(now)
	if period != info.periodIndex {
		info.periodLevelToDuration = make(map[int]float64)
		info.periodIndex = period
		duration = now - period*a.period
	}

	info.periodLevelToDuration[info.lastLevel] += duration
	info.lastTime = now
}

// Stats returns the occupancy of every watched queue, sorted by name.
func (a *QueueAnalyzer) Stats() []QueueStats {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := float64(a.timeTeller.CurrentTime())
	stats := make([]QueueStats, 0, len(a.queues))

	for name, info := range a.queues {
		a.advance(info, now)

		stats = append(stats, QueueStats{
			Queue:         name,
			Level:         info.lastLevel,
			Capacity:      info.buf.Capacity(),
			Peak:          info.peak,
			Average:       averageLevel(info.levelToDuration),
			PeriodAverage: averageLevel(info.periodLevelToDuration),
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Queue < stats[j].Queue
	})

	return stats
}

// Report writes one line per queue.
func (a *QueueAnalyzer) Report(w io.Writer) error {
	now := a.timeTeller.CurrentTime()

	for _, s := range a.Stats() {
		_, err := fmt.Fprintf(w, "%s, %.10f, %d, %d, %d, %.10f, %.10f\n",
			s.Queue, now, s.Level, s.Capacity, s.Peak,
			s.Average, s.PeriodAverage)
		if err != nil {
			return err
		}
	}

	return nil
}
