// Package simulation owns everything a run needs: the engine, the topology,
// the tap endpoints and relays, the recorders and the monitor. There is no
// process-wide state; each Simulation is independent.
package simulation

import (
	"context"
	"io"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/datarecording"
	"github.com/sarchlab/tapbridge/monitoring"
	"github.com/sarchlab/tapbridge/relay"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sarchlab/tapbridge/tap"
	"github.com/sarchlab/tapbridge/topology"
	"github.com/sarchlab/tapbridge/tracing"
	"github.com/sirupsen/logrus"
)

// A Simulation is the context of one run.
type Simulation struct {
	id  string
	cfg *config.Scenario

	engine   sim.Engine
	realtime *sim.RealTimeEngine
	topo     *topology.Topology
	taps     *tap.Manager
	relays   []*relay.Relay

	metrics       *monitoring.Metrics
	recorder      datarecording.DataRecorder
	runRecorder   *datarecording.RunRecorder
	frameRecorder *datarecording.FrameRecorder
	pcap          *tracing.PcapTracer
	monitor       *monitoring.Monitor
	monitorURL    string

	tracingShutdown func(context.Context) error

	runLock   sync.Mutex
	ran       bool
	realStart time.Time
	realEnd   time.Time

	shutdownOnce sync.Once
}

type stopEvent struct {
	*sim.EventBase
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Name returns the name of the scenario.
func (s *Simulation) Name() string {
	return s.cfg.Name
}

// Scenario returns the validated scenario.
func (s *Simulation) Scenario() *config.Scenario {
	return s.cfg
}

// Engine returns the engine used in the simulation.
func (s *Simulation) Engine() sim.Engine {
	return s.engine
}

// Topology returns the simulated network.
func (s *Simulation) Topology() *topology.Topology {
	return s.topo
}

// Relays returns the relays, one per tap.
func (s *Simulation) Relays() []*relay.Relay {
	return s.relays
}

// Taps returns the manager of the tap endpoints.
func (s *Simulation) Taps() *tap.Manager {
	return s.taps
}

// Metrics returns the Prometheus metrics of the run.
func (s *Simulation) Metrics() *monitoring.Metrics {
	return s.metrics
}

// DataRecorder returns the recorder, or nil when recording is off.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.recorder
}

// PcapTracer returns the capture writer, or nil when capture is off.
func (s *Simulation) PcapTracer() *tracing.PcapTracer {
	return s.pcap
}

// MonitorURL returns the address of the monitor, or "" when it is off.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// LogNodes writes every node with its interfaces and routes.
func (s *Simulation) LogNodes(w io.Writer) error {
	return s.topo.Describe(w)
}

// Handle stops an as-fast-as-possible run at its stop time.
func (s *Simulation) Handle(e sim.Event) error {
	switch e.(type) {
	case *stopEvent:
		s.engine.Stop()
	default:
		log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

// Run starts the relays and runs the engine until the stop time, until ctx is
// cancelled, or until a relay fails. A relay failure is returned as a
// *relay.RelayFailure. A simulation can only run once.
func (s *Simulation) Run(ctx context.Context) error {
	s.runLock.Lock()
	if s.ran {
		s.runLock.Unlock()
		return errors.New("simulation has already run")
	}
	s.ran = true
	s.realStart = time.Now()
	s.runLock.Unlock()

	ctx, span := monitoring.Tracer().Start(ctx, "run")
	defer span.End()

	if s.runRecorder != nil {
		s.runRecorder.Start(s.cfg.Name)
	}

	if s.monitor != nil {
		s.monitor.SetProgress(s.realStart, s.cfg.StopTime.Seconds())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failures := s.watchRelays(ctx, cancel)

	for _, r := range s.relays {
		r.Start()
	}

	err := s.runEngine(ctx)

	s.runLock.Lock()
	s.realEnd = time.Now()
	s.runLock.Unlock()

	s.engine.Finished()
	s.logTimes()

	if err == nil {
		select {
		case failure := <-failures:
			err = failure
		default:
		}
	}

	if err != nil {
		span.RecordError(err)
		logger().WithError(err).Error("simulation failed")
	}

	return err
}

func (s *Simulation) watchRelays(
	ctx context.Context,
	cancel context.CancelFunc,
) <-chan *relay.RelayFailure {
	failures := make(chan *relay.RelayFailure, 1)

	for _, r := range s.relays {
		go func(r *relay.Relay) {
			select {
			case failure := <-r.Failures():
				select {
				case failures <- failure:
				default:
				}
				cancel()
			case <-ctx.Done():
			}
		}(r)
	}

	return failures
}

func (s *Simulation) runEngine(ctx context.Context) error {
	if s.realtime != nil {
		return s.realtime.RunContext(ctx)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.engine.Stop()
		case <-done:
		}
	}()

	return s.engine.Run()
}

// Elapsed returns the real time the run took and the simulated time it
// covered.
func (s *Simulation) Elapsed() (time.Duration, sim.VTimeInSec) {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	if !s.ran {
		return 0, 0
	}

	end := s.realEnd
	if end.IsZero() {
		end = time.Now()
	}

	return end.Sub(s.realStart), s.engine.CurrentTime()
}

func (s *Simulation) logTimes() {
	realTime, simulated := s.Elapsed()

	logger().WithFields(logrus.Fields{
		"scenario":     s.cfg.Name,
		"real_ms":      float64(realTime) / float64(time.Millisecond),
		"simulated_ms": float64(simulated) * 1000,
	}).Info("simulation finished")
}

// Shutdown releases everything the simulation holds. It closes the tap
// endpoints, stops the relays and the engine, then flushes the recorders and
// capture files. Only the first call does anything.
func (s *Simulation) Shutdown() error {
	var result *multierror.Error

	s.shutdownOnce.Do(func() {
		if s.taps != nil {
			if err := s.taps.CloseAll(); err != nil {
				result = multierror.Append(result, err)
			}
		}

		for _, r := range s.relays {
			if err := r.Stop(); err != nil {
				result = multierror.Append(result, err)
			}
		}

		if s.engine != nil {
			s.engine.Stop()
		}

		result = multierror.Append(result, s.flush())

		if s.monitor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := s.monitor.Stop(ctx); err != nil {
				result = multierror.Append(result,
					errors.Wrap(err, "stop monitor"))
			}
			cancel()
		}

		monitoring.ShutdownWithTimeout(s.tracingShutdown)

		logger().WithField("id", s.id).Debug("simulation shut down")
	})

	return result.ErrorOrNil()
}

func (s *Simulation) flush() error {
	var result *multierror.Error

	if s.runRecorder != nil && s.ran {
		realTime, simulated := s.Elapsed()
		err := s.runRecorder.End(
			float64(realTime)/float64(time.Millisecond),
			float64(simulated)*1000,
		)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			result = multierror.Append(result,
				errors.Wrap(err, "close recorder"))
		}
	}

	if s.pcap != nil {
		if err := s.pcap.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "simulation")
}
