// Package relay moves frames between a host tap device and a bridged
// simulated interface.
//
// Frames read from the tap are stamped with the current real time and
// injected into the simulation through the engine's thread-safe scheduling
// call. Frames the bridged interface receives are written to the tap as they
// are. The first I/O error in either direction ends the relay and is reported
// once on Failures.
package relay

import (
	"fmt"
	"log"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sarchlab/tapbridge/tap"
	"github.com/sirupsen/logrus"
)

// HookPosFrameRelayed marks a frame crossing the bridge. The item is the
// packet.Frame and the detail is the Direction.
var HookPosFrameRelayed = &sim.HookPos{Name: "FrameRelayed"}

// Direction tells which way a frame crosses the bridge.
type Direction int

// The two directions of a relay.
const (
	ToSimulation Direction = iota
	ToTap
)

func (d Direction) String() string {
	switch d {
	case ToSimulation:
		return "tap->sim"
	case ToTap:
		return "sim->tap"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// A RelayFailure is the first I/O error a relay ran into.
type RelayFailure struct {
	Direction Direction
	Device    string
	Cause     error
}

func (f *RelayFailure) Error() string {
	return fmt.Sprintf("relay %s (%s): %v", f.Device, f.Direction, f.Cause)
}

// Unwrap returns the cause.
func (f *RelayFailure) Unwrap() error {
	return f.Cause
}

// Config configures a relay.
type Config struct {
	// Name identifies the relay in logs and hooks. It defaults to
	// "relay.<device>".
	Name string

	// LogFrames logs every relayed frame at debug level.
	LogFrames bool
}

// Stats counts the frames a relay moved.
type Stats struct {
	ToSimulationFrames uint64
	ToSimulationBytes  uint64
	ToTapFrames        uint64
	ToTapBytes         uint64
}

// A Relay connects one tap endpoint to one bridged interface.
type Relay struct {
	sim.HookableBase

	cfg      Config
	endpoint *tap.Endpoint
	iface    *network.Interface
	engine   sim.RealtimeScheduler
	sink     *TapSink

	startOnce sync.Once
	stopOnce  sync.Once
	failOnce  sync.Once
	stopped   atomic.Bool
	readerWG  sync.WaitGroup
	failures  chan *RelayFailure

	toSimFrames atomic.Uint64
	toSimBytes  atomic.Uint64
	toTapFrames atomic.Uint64
	toTapBytes  atomic.Uint64
}

type injectEvent struct {
	*sim.EventBase
	frame packet.Frame
}

// New creates a relay. Nothing moves until Start is called.
func New(
	cfg Config,
	endpoint *tap.Endpoint,
	iface *network.Interface,
	engine sim.RealtimeScheduler,
) *Relay {
	if cfg.Name == "" {
		cfg.Name = "relay." + endpoint.Name()
	}

	r := &Relay{
		cfg:      cfg,
		endpoint: endpoint,
		iface:    iface,
		engine:   engine,
		failures: make(chan *RelayFailure, 1),
	}
	r.sink = &TapSink{relay: r}

	return r
}

// Name returns the name of the relay.
func (r *Relay) Name() string {
	return r.cfg.Name
}

// Device returns the name of the host tap device.
func (r *Relay) Device() string {
	return r.endpoint.Name()
}

// Interface returns the bridged interface.
func (r *Relay) Interface() *network.Interface {
	return r.iface
}

// Sink returns the sink that writes frames to the tap.
func (r *Relay) Sink() *TapSink {
	return r.sink
}

// Failures delivers at most one failure.
func (r *Relay) Failures() <-chan *RelayFailure {
	return r.failures
}

// Stats returns the frame counters.
func (r *Relay) Stats() Stats {
	return Stats{
		ToSimulationFrames: r.toSimFrames.Load(),
		ToSimulationBytes:  r.toSimBytes.Load(),
		ToTapFrames:        r.toTapFrames.Load(),
		ToTapBytes:         r.toTapBytes.Load(),
	}
}

// Start bridges the interface and launches the tap reader. It must be called
// before the engine starts running. Calling it again does nothing.
func (r *Relay) Start() {
	r.startOnce.Do(func() {
		r.iface.SetFrameSink(r.sink)

		r.readerWG.Add(1)
		go r.readLoop()

		r.logEntry().WithField("interface", r.iface.Name()).
			Info("relay started")
	})
}

// Stop closes the endpoint, waits for the reader to return and detaches the
// sink. It can be called more than once.
func (r *Relay) Stop() error {
	var err error

	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		r.sink.detach()

		err = r.endpoint.Close()
		r.readerWG.Wait()

		stats := r.Stats()
		r.logEntry().WithFields(logrus.Fields{
			"to_sim_frames": stats.ToSimulationFrames,
			"to_tap_frames": stats.ToTapFrames,
		}).Info("relay stopped")
	})

	return errors.Wrapf(err, "stop relay %s", r.Name())
}

// Handle injects the frames read from the tap. It runs on the engine
// goroutine.
func (r *Relay) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *injectEvent:
		r.inject(evt)
	default:
		log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

func (r *Relay) inject(evt *injectEvent) {
	if r.stopped.Load() {
		return
	}

	r.relayed(ToSimulation, evt.frame)

	// Dropped frames are reported by the interface hooks.
	r.iface.Send(evt.frame)
}

func (r *Relay) readLoop() {
	defer r.readerWG.Done()

	for {
		f, err := r.endpoint.ReceiveBlocking()
		if err != nil {
			if !errors.Is(err, tap.ErrClosed) {
				r.fail(ToSimulation, err)
			}

			return
		}

		if r.stopped.Load() {
			return
		}

		r.engine.ScheduleRealtimeNow(func(now sim.VTimeInSec) sim.Event {
			return &injectEvent{
				EventBase: sim.NewEventBase(now, r),
				frame:     f.WithTime(now),
			}
		})
	}
}

func (r *Relay) writeToTap(f packet.Frame) {
	if r.stopped.Load() {
		return
	}

	if err := r.endpoint.Send(f); err != nil {
		if !errors.Is(err, tap.ErrClosed) {
			r.fail(ToTap, err)
		}

		return
	}

	r.relayed(ToTap, f)
}

func (r *Relay) relayed(dir Direction, f packet.Frame) {
	n := uint64(f.Len())

	switch dir {
	case ToSimulation:
		r.toSimFrames.Add(1)
		r.toSimBytes.Add(n)
	case ToTap:
		r.toTapFrames.Add(1)
		r.toTapBytes.Add(n)
	}

	if r.cfg.LogFrames {
		r.logEntry().WithFields(logrus.Fields{
			"direction": dir.String(),
			"time":      float64(f.Time()),
			"bytes":     f.Len(),
		}).Debug("frame relayed")
	}

	if r.NumHooks() > 0 {
		r.InvokeHook(sim.HookCtx{
			Domain: r,
			Pos:    HookPosFrameRelayed,
			Item:   f,
			Detail: dir,
		})
	}
}

// fail stops both directions and publishes the failure. Only the first call
// has an effect.
func (r *Relay) fail(dir Direction, err error) {
	r.failOnce.Do(func() {
		r.stopped.Store(true)
		r.sink.detach()

		failure := &RelayFailure{
			Direction: dir,
			Device:    r.Device(),
			Cause:     err,
		}

		r.logEntry().WithField("direction", dir.String()).
			WithError(err).Error("relay failed")

		if closeErr := r.endpoint.Close(); closeErr != nil {
			r.logEntry().WithError(closeErr).Warn("closing tap after failure")
		}

		r.failures <- failure
	})
}

func (r *Relay) logEntry() *logrus.Entry {
	return logger().WithField("device", r.Device())
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "relay")
}
