package simulation

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/datarecording"
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/monitoring"
	"github.com/sarchlab/tapbridge/relay"
	"github.com/sarchlab/tapbridge/scenario"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sarchlab/tapbridge/tap"
	"github.com/sarchlab/tapbridge/topology"
	"github.com/sarchlab/tapbridge/tracing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// queuePeriod is the window of the per-period queue averages.
const queuePeriod sim.VTimeInSec = 1

// Builder can be used to build a simulation.
type Builder struct {
	cfg          *config.Scenario
	opener       tap.Opener
	policy       mobility.AttachmentPolicy
	tapOverrides map[string]string
	registry     prometheus.Registerer
	traceWriter  io.Writer
	logFrames    bool
	ids          sim.IDGenerator
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{tapOverrides: make(map[string]string)}
}

// WithScenario sets the scenario to run. The builder works on a copy when
// taps are overridden.
func (b Builder) WithScenario(cfg *config.Scenario) Builder {
	b.cfg = cfg
	return b
}

// WithOpener sets how tap devices are opened. By default devices are opened
// through /dev/net/tun, in the namespace each tap names.
func (b Builder) WithOpener(opener tap.Opener) Builder {
	b.opener = opener
	return b
}

// WithPolicy sets the attachment policy. By default the policy named by the
// scenario is used.
func (b Builder) WithPolicy(policy mobility.AttachmentPolicy) Builder {
	b.policy = policy
	return b
}

// WithTapOverride binds the tap called name in the scenario to another host
// device.
func (b Builder) WithTapOverride(name, device string) Builder {
	overrides := make(map[string]string, len(b.tapOverrides)+1)
	for k, v := range b.tapOverrides {
		overrides[k] = v
	}
	overrides[name] = device

	b.tapOverrides = overrides

	return b
}

// WithRegistry sets where the Prometheus metrics are registered. By default a
// private registry is used.
func (b Builder) WithRegistry(reg prometheus.Registerer) Builder {
	b.registry = reg
	return b
}

// WithTraceWriter sets where spans are printed when the scenario enables
// tracing.
func (b Builder) WithTraceWriter(w io.Writer) Builder {
	b.traceWriter = w
	return b
}

// WithIDGenerator sets how the nodes of the simulation are numbered. By
// default each simulation counts from 1.
func (b Builder) WithIDGenerator(g sim.IDGenerator) Builder {
	b.ids = g
	return b
}

// WithFrameLogging logs every relayed frame at debug level.
func (b Builder) WithFrameLogging() Builder {
	b.logFrames = true
	return b
}

func (b Builder) scenario() (*config.Scenario, error) {
	if b.cfg == nil {
		return nil, errors.New("no scenario to build")
	}

	cfg := b.cfg
	if len(b.tapOverrides) > 0 {
		c := *b.cfg
		c.Taps = append([]config.Tap(nil), b.cfg.Taps...)
		cfg = &c
	}

	applied := make(map[string]bool)
	for i, t := range cfg.Taps {
		if dev, found := b.tapOverrides[t.Device]; found {
			cfg.Taps[i].Device = dev
			applied[t.Device] = true
		}
	}

	for name := range b.tapOverrides {
		if !applied[name] {
			return nil, errors.Errorf("no tap named %s to override", name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}

	if len(cfg.Taps) > 0 && !cfg.RealTime {
		return nil, errors.New("a scenario with taps must run in real time")
	}

	if len(cfg.Cells) > 0 && cfg.StopTime == 0 {
		return nil, errors.New("a scenario with cells needs a stop time")
	}

	return cfg, nil
}

// Build creates the engine, the topology, the tap endpoints and relays, and
// the recorders and monitor the scenario asks for. If any step fails, what
// was already created is released.
func (b Builder) Build() (*Simulation, error) {
	cfg, err := b.scenario()
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		id:  xid.New().String(),
		cfg: cfg,
	}

	if err := b.setupTracing(s); err != nil {
		return nil, err
	}

	_, span := monitoring.Tracer().Start(context.Background(), "build")
	span.SetAttributes(attribute.String("scenario", cfg.Name))
	defer span.End()

	steps := []struct {
		name string
		run  func(*Simulation) error
	}{
		{"engine", b.buildEngine},
		{"topology", b.buildTopology},
		{"metrics", b.buildMetrics},
		{"recorder", b.buildRecorder},
		{"pcap", b.buildPcap},
		{"taps", b.buildRelays},
		{"monitor", b.buildMonitor},
	}

	for _, step := range steps {
		if err := step.run(s); err != nil {
			span.RecordError(err)
			_ = s.Shutdown()

			return nil, errors.Wrapf(err, "build %s", step.name)
		}
	}

	logger().WithFields(logrus.Fields{
		"id":       s.id,
		"scenario": cfg.Name,
		"taps":     len(s.relays),
		"realtime": cfg.RealTime,
	}).Info("simulation built")

	return s, nil
}

func (b Builder) setupTracing(s *Simulation) error {
	shutdown, err := monitoring.InitTracing(context.Background(),
		monitoring.TracingConfig{
			Enabled: s.cfg.Trace,
			Writer:  b.traceWriter,
		})
	if err != nil {
		return err
	}

	s.tracingShutdown = shutdown

	return nil
}

func (b Builder) buildEngine(s *Simulation) error {
	if !s.cfg.RealTime {
		serial := sim.NewSerialEngine()
		if s.cfg.StopTime > 0 {
			serial.Schedule(&stopEvent{
				EventBase: sim.NewEventBase(s.cfg.StopTime.Seconds(), s),
			})
		}

		s.engine = serial

		return nil
	}

	rt, err := sim.NewRealTimeEngine(sim.RealTimeConfig{
		StopAt:           s.cfg.StopTime.Seconds(),
		WaitForEvents:    len(s.cfg.Taps) > 0,
		MaxSleep:         s.cfg.MaxSleep.Std(),
		LagWarnThreshold: s.cfg.LagWarn.Std(),
	})
	if err != nil {
		return err
	}

	s.engine = rt
	s.realtime = rt

	return nil
}

func (b Builder) buildTopology(s *Simulation) error {
	policy := b.policy
	if policy == nil && len(s.cfg.Cells) > 0 {
		p, err := scenario.Policy(s.cfg.Attachment.Policy)
		if err != nil {
			return err
		}
		policy = p
	}

	topo, err := topology.Build(s.cfg, s.engine, topology.Options{
		Policy:      policy,
		IDGenerator: b.ids,
	})
	if err != nil {
		return err
	}

	s.topo = topo

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		s.engine.AcceptHook(sim.NewEventLogger(nil))
	}

	return nil
}

func (b Builder) buildMetrics(s *Simulation) error {
	metrics, err := monitoring.NewMetrics(b.registry)
	if err != nil {
		return err
	}

	s.metrics = metrics
	s.engine.AcceptHook(metrics)

	for _, iface := range s.topo.Interfaces() {
		iface.AcceptHook(metrics)
	}

	if s.topo.Attacher != nil {
		s.topo.Attacher.AcceptHook(metrics)
	}

	return nil
}

func (b Builder) buildRecorder(s *Simulation) error {
	if s.cfg.Record.Path == "" {
		return nil
	}

	recorder, err := datarecording.New(s.cfg.Record.Path)
	if err != nil {
		return err
	}
	s.recorder = recorder

	run, err := datarecording.NewRunRecorder(recorder)
	if err != nil {
		return err
	}
	s.runRecorder = run

	frames, err := datarecording.NewFrameRecorder(recorder, run.RunID())
	if err != nil {
		return err
	}
	s.frameRecorder = frames

	for _, iface := range s.topo.Interfaces() {
		iface.AcceptHook(frames)
	}

	return nil
}

func (b Builder) buildPcap(s *Simulation) error {
	if !s.cfg.Pcap.Enabled {
		return nil
	}

	tracer, err := tracing.NewPcapTracer(s.cfg.Pcap.Dir, s.cfg.Pcap.Prefix)
	if err != nil {
		return err
	}
	s.pcap = tracer

	return tracer.CaptureAll(s.topo.Network)
}

func (b Builder) buildRelays(s *Simulation) error {
	opener := b.opener
	if opener == nil {
		opener = newNamespaceOpener(s.topo.Bridges)
	}

	s.taps = tap.NewManager(opener)

	for _, bridge := range s.topo.Bridges {
		ep, err := s.taps.Open(bridge.Device)
		if err != nil {
			return err
		}

		r := relay.New(relay.Config{LogFrames: b.logFrames},
			ep, bridge.Interface, s.realtime)
		r.AcceptHook(s.metrics)

		if s.frameRecorder != nil {
			r.AcceptHook(s.frameRecorder)
		}

		s.relays = append(s.relays, r)
	}

	return nil
}

func (b Builder) buildMonitor(s *Simulation) error {
	if !s.cfg.Monitor.Enabled {
		return nil
	}

	m := monitoring.NewMonitor().WithPortNumber(s.cfg.Monitor.Port)
	m.RegisterEngine(s.engine)
	m.RegisterNetwork(s.topo.Network)
	m.RegisterMetrics(s.metrics)

	queues := monitoring.NewQueueAnalyzer(s.engine, queuePeriod)
	for _, iface := range s.topo.Interfaces() {
		if q := iface.TxQueue(); q != nil {
			queues.Watch(q)
		}
	}
	m.RegisterQueueAnalyzer(queues)

	for _, r := range s.relays {
		m.RegisterRelay(r)
	}

	url, err := m.StartServer()
	if err != nil {
		return err
	}

	s.monitor = m
	s.monitorURL = url

	if s.cfg.Monitor.OpenBrowser {
		if err := monitoring.OpenBrowser(url); err != nil {
			logger().WithError(err).Warn("cannot open browser")
		}
	}

	return nil
}

// namespaceOpener opens each device in the namespace its bridge names.
type namespaceOpener map[string]string

func newNamespaceOpener(bridges []topology.Bridge) namespaceOpener {
	o := make(namespaceOpener)
	for _, b := range bridges {
		o[b.Device] = b.NetNS
	}

	return o
}

func (o namespaceOpener) Open(name string) (tap.Device, error) {
	return tap.LinuxOpener{NetNS: o[name]}.Open(name)
}
