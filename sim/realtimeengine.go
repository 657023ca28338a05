package sim

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxSleep is the longest the real-time engine sleeps at once while
// waiting for the next event.
const DefaultMaxSleep = 10 * time.Millisecond

// RealTimeConfig configures a RealTimeEngine.
type RealTimeConfig struct {
	// StopAt is the simulated time at which Run returns. Zero means Run
	// returns as soon as the queue drains, unless WaitForEvents is set.
	StopAt VTimeInSec

	// WaitForEvents keeps a run without a stop time going on an empty queue,
	// waiting for events scheduled from other goroutines, until Stop is
	// called.
	WaitForEvents bool

	// MaxSleep caps each sleep so that newly scheduled events and stop
	// requests are noticed quickly. Zero selects DefaultMaxSleep.
	MaxSleep time.Duration

	// LagWarnThreshold makes the engine log a warning when an event starts
	// later than this behind the wall clock. Zero disables the warning.
	LagWarnThreshold time.Duration
}

// Validate checks the configuration values.
func (c RealTimeConfig) Validate() error {
	if c.StopAt < 0 {
		return errors.Errorf("stop time %.3fs is negative", float64(c.StopAt))
	}

	if c.MaxSleep < 0 {
		return errors.Errorf("max sleep %s is negative", c.MaxSleep)
	}

	if c.LagWarnThreshold < 0 {
		return errors.Errorf("lag threshold %s is negative", c.LagWarnThreshold)
	}

	return nil
}

// A RealTimeEngine runs events in time order, but never before the wall clock
// has caught up with the event time. Simulated time zero is the moment Run
// starts.
type RealTimeEngine struct {
	HookableBase

	cfg    RealTimeConfig
	queues dualQueue

	// timeLock guards time. It is also held while an event is taken out of
	// the queue and while ScheduleRealtimeNow pushes, so that a real-time
	// event can never be stamped earlier than the current time.
	timeLock sync.Mutex
	time     VTimeInSec

	clockLock sync.Mutex
	started   bool
	startWall time.Time
	pausedAt  time.Time

	wakeup   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewRealTimeEngine creates a RealTimeEngine.
func NewRealTimeEngine(cfg RealTimeConfig) (*RealTimeEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid real-time engine config")
	}

	if cfg.MaxSleep == 0 {
		cfg.MaxSleep = DefaultMaxSleep
	}

	e := &RealTimeEngine{
		cfg:    cfg,
		queues: newDualQueue(),
		wakeup: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}

	return e, nil
}

// StopAt returns the configured stop time.
func (e *RealTimeEngine) StopAt() VTimeInSec {
	return e.cfg.StopAt
}

// Schedule registers an event to happen in the future. It is safe to call
// from any goroutine.
func (e *RealTimeEngine) Schedule(evt Event) {
	e.timeLock.Lock()
	if evt.Time() < e.time {
		e.timeLock.Unlock()
		log.Panicf("scheduling an event at %.10f, earlier than current time %.10f",
			evt.Time(), e.time)
	}
	e.queues.push(evt)
	e.timeLock.Unlock()

	e.notify()
}

// ScheduleRealtimeNow creates an event stamped with the current real time and
// schedules it. The stamp is never earlier than the time of the event being
// handled, so consecutive calls from one goroutine get non-decreasing times.
func (e *RealTimeEngine) ScheduleRealtimeNow(create func(now VTimeInSec) Event) {
	e.timeLock.Lock()
	now := e.elapsed()
	if now < e.time {
		now = e.time
	}
	e.queues.push(create(now))
	e.timeLock.Unlock()

	e.notify()
}

// RealtimeNow returns the wall-clock time elapsed since the engine started,
// but never less than the current event time.
func (e *RealTimeEngine) RealtimeNow() VTimeInSec {
	e.timeLock.Lock()
	defer e.timeLock.Unlock()

	now := e.elapsed()
	if now < e.time {
		now = e.time
	}

	return now
}

func (e *RealTimeEngine) notify() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

// CurrentTime returns the time of the event being handled, or of the last one.
func (e *RealTimeEngine) CurrentTime() VTimeInSec {
	e.timeLock.Lock()
	defer e.timeLock.Unlock()

	return e.time
}

// Run processes events in real time until the stop time, until the queue
// drains when no stop time is set and WaitForEvents is not, or until Stop is
// called. A fatal handler
// error ends the run and is returned.
func (e *RealTimeEngine) Run() error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	e.startClock()

	for {
		if e.isStopped() {
			e.discard("stop requested")
			return nil
		}

		evt := e.queues.peek()
		if evt == nil {
			if e.cfg.StopAt <= 0 {
				if !e.cfg.WaitForEvents {
					return nil
				}

				e.sleep(e.cfg.MaxSleep)
				continue
			}

			if e.elapsed() >= e.cfg.StopAt {
				e.advanceTo(e.cfg.StopAt)
				return nil
			}

			e.sleep(e.untilWall(e.cfg.StopAt))
			continue
		}

		if e.cfg.StopAt > 0 && evt.Time() >= e.cfg.StopAt {
			e.discard("stop time reached")
			e.advanceTo(e.cfg.StopAt)
			return nil
		}

		if wait := e.untilWall(evt.Time()); wait > 0 {
			e.sleep(wait)
			continue
		}

		e.pauseLock.Lock()

		evt = e.next()
		e.reportLag(evt)
		err := handleEvent(&e.HookableBase, e, evt)

		e.pauseLock.Unlock()

		if err != nil {
			e.discard("fatal handler error")
			return err
		}
	}
}

// RunContext is Run, but it also stops when the context is cancelled.
func (e *RealTimeEngine) RunContext(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-done:
		}
	}()

	return e.Run()
}

// Stop ends Run at the next safe point. It can be called more than once and
// from any goroutine. A paused engine is resumed so that Run can return.
func (e *RealTimeEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})

	e.Continue()
}

func (e *RealTimeEngine) isStopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *RealTimeEngine) discard(reason string) {
	n := e.queues.clear()
	if n > 0 {
		logger().WithFields(logrus.Fields{
			"dropped": n,
			"reason":  reason,
		}).Debug("discarding queued events")
	}
}

func (e *RealTimeEngine) next() Event {
	e.timeLock.Lock()
	defer e.timeLock.Unlock()

	evt := e.queues.pop()
	if evt.Time() > e.time {
		e.time = evt.Time()
	}

	return evt
}

func (e *RealTimeEngine) advanceTo(t VTimeInSec) {
	e.timeLock.Lock()
	if t > e.time {
		e.time = t
	}
	e.timeLock.Unlock()
}

func (e *RealTimeEngine) sleep(d time.Duration) {
	if d > e.cfg.MaxSleep {
		d = e.cfg.MaxSleep
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-e.wakeup:
	case <-e.stop:
	}
}

func (e *RealTimeEngine) startClock() {
	e.clockLock.Lock()
	defer e.clockLock.Unlock()

	if e.started {
		return
	}

	e.started = true
	e.startWall = time.Now()
	if e.isPaused {
		e.pausedAt = e.startWall
	}
}

// elapsed returns the wall-clock time since start in simulated seconds. It
// stands still while the engine is paused.
func (e *RealTimeEngine) elapsed() VTimeInSec {
	e.clockLock.Lock()
	defer e.clockLock.Unlock()

	if !e.started {
		return 0
	}

	end := time.Now()
	if e.isPaused {
		end = e.pausedAt
	}

	return VTimeInSec(end.Sub(e.startWall).Seconds())
}

func (e *RealTimeEngine) untilWall(t VTimeInSec) time.Duration {
	return secondsToDuration(t - e.elapsed())
}

func (e *RealTimeEngine) reportLag(evt Event) {
	lag := secondsToDuration(e.elapsed() - evt.Time())
	if lag < 0 {
		lag = 0
	}

	if e.NumHooks() > 0 {
		e.InvokeHook(HookCtx{
			Domain: e,
			Pos:    HookPosEventLag,
			Item:   evt,
			Detail: lag,
		})
	}

	if e.cfg.LagWarnThreshold > 0 && lag > e.cfg.LagWarnThreshold {
		logger().WithFields(logrus.Fields{
			"time":    float64(evt.Time()),
			"handler": handlerName(evt.Handler()),
			"lag":     lag.String(),
		}).Warn("event is running behind the wall clock")
	}
}

// Pause prevents the engine from triggering more events. Simulated time stops
// following the wall clock until Continue is called.
func (e *RealTimeEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()

	e.clockLock.Lock()
	e.isPaused = true
	e.pausedAt = time.Now()
	e.clockLock.Unlock()
}

// Continue resumes a paused engine.
func (e *RealTimeEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.clockLock.Lock()
	if e.started {
		e.startWall = e.startWall.Add(time.Since(e.pausedAt))
	}
	e.isPaused = false
	e.clockLock.Unlock()

	e.pauseLock.Unlock()
	e.notify()
}

// RegisterSimulationEndHandler registers a handler to be called when the
// simulation finishes.
func (e *RealTimeEngine) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished calls all the registered SimulationEndHandler.
func (e *RealTimeEngine) Finished() {
	now := e.CurrentTime()
	for _, h := range e.simulationEndHandlers {
		h.Handle(now)
	}
}

func secondsToDuration(s VTimeInSec) time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}
