package monitoring

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/relay"
	"github.com/sarchlab/tapbridge/sim"
)

// Metrics bundles the Prometheus collectors of a run. It is a hook: attach it
// to the engine, to relays, to interfaces and to the attacher.
type Metrics struct {
	gatherer prometheus.Gatherer

	FramesRelayed   *prometheus.CounterVec
	BytesRelayed    *prometheus.CounterVec
	InterfaceFrames *prometheus.CounterVec
	EventLag        prometheus.Histogram
	EventsHandled   prometheus.Counter
	Handovers       prometheus.Counter
}

// NewMetrics registers the collectors against reg. A nil reg selects a new
// private registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		gatherer: gatherer,
		FramesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapbridge_frames_relayed_total",
			Help: "Frames moved between tap devices and the simulation.",
		}, []string{"device", "direction"}),
		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapbridge_bytes_relayed_total",
			Help: "Bytes moved between tap devices and the simulation.",
		}, []string{"device", "direction"}),
		InterfaceFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tapbridge_interface_frames_total",
			Help: "Frames sent, received and dropped by simulated interfaces.",
		}, []string{"interface", "event"}),
		EventLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "tapbridge_event_lag_seconds",
			Help: "How late events start behind the wall clock.",
			Buckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
			},
		}),
		EventsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapbridge_events_handled_total",
			Help: "Events handled by the engine.",
		}),
		Handovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tapbridge_handovers_total",
			Help: "Changes of the serving cell of mobile nodes.",
		}),
	}

	collectors := []prometheus.Collector{
		m.FramesRelayed,
		m.BytesRelayed,
		m.InterfaceFrames,
		m.EventLag,
		m.EventsHandled,
		m.Handovers,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}

	return m, nil
}

// Handler exposes the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Func updates the metrics from hook invocations.
func (m *Metrics) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosAfterEvent:
		m.EventsHandled.Inc()
	case sim.HookPosEventLag:
		if lag, ok := ctx.Detail.(time.Duration); ok {
			m.EventLag.Observe(lag.Seconds())
		}
	case relay.HookPosFrameRelayed:
		r := ctx.Domain.(*relay.Relay)
		dir := ctx.Detail.(relay.Direction).String()
		f := ctx.Item.(packet.Frame)
		m.FramesRelayed.WithLabelValues(r.Device(), dir).Inc()
		m.BytesRelayed.WithLabelValues(r.Device(), dir).Add(float64(f.Len()))
	case network.HookPosFrameSend:
		m.interfaceFrame(ctx, "send")
	case network.HookPosFrameRecv:
		m.interfaceFrame(ctx, "recv")
	case network.HookPosFrameDrop:
		m.interfaceFrame(ctx, "drop")
	case mobility.HookPosHandover:
		m.Handovers.Inc()
	}
}

func (m *Metrics) interfaceFrame(ctx sim.HookCtx, event string) {
	iface := ctx.Domain.(*network.Interface)
	m.InterfaceFrames.WithLabelValues(iface.Name(), event).Inc()
}
