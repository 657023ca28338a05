// Package monitoring serves a running simulation over HTTP and exports its
// metrics and spans.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/relay"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"
)

// Monitor turns a simulation into a server that can be inspected and paused
// from outside.
type Monitor struct {
	engine     sim.Engine
	nodes      []*network.Node
	interfaces []*network.Interface
	buffers    []sim.Buffer
	relays     []*relay.Relay
	metrics    *Metrics
	queues     *QueueAnalyzer
	progress   *Progress
	portNumber int

	// inspectLock serializes requests that read simulation state. While one
	// runs, the engine is paused unless a client already paused it.
	inspectLock sync.Mutex
	pausedLock  sync.Mutex
	userPaused  bool

	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{progress: &Progress{}}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// refused and a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		logger().WithField("port", portNumber).
			Warn("port number not allowed, using a random port instead")
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e sim.Engine) {
	m.engine = e
}

// RegisterNetwork registers the nodes, interfaces and transmit queues of a
// network.
func (m *Monitor) RegisterNetwork(nw *network.Network) {
	m.nodes = append(m.nodes, nw.Nodes()...)

	for _, iface := range nw.Interfaces() {
		m.interfaces = append(m.interfaces, iface)

		if q := iface.TxQueue(); q != nil {
			m.buffers = append(m.buffers, q)
		}
	}
}

// RegisterRelay registers a relay to report on.
func (m *Monitor) RegisterRelay(r *relay.Relay) {
	m.relays = append(m.relays, r)
}

// RegisterMetrics makes the metrics available at /metrics.
func (m *Monitor) RegisterMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// RegisterQueueAnalyzer makes the queue occupancy available at /api/queues.
func (m *Monitor) RegisterQueueAnalyzer(a *QueueAnalyzer) {
	m.queues = a
}

// SetProgress records when the run started and when it stops.
func (m *Monitor) SetProgress(start time.Time, stopAt sim.VTimeInSec) {
	m.progress.Lock()
	m.progress.StartTime = start
	m.progress.StopAt = stopAt
	m.progress.Unlock()
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/progress", m.reportProgress)
	r.HandleFunc("/api/nodes", m.listNodes)
	r.HandleFunc("/api/node/{name}", m.nodeDetails)
	r.HandleFunc("/api/interfaces", m.listInterfaces)
	r.HandleFunc("/api/relays", m.listRelays)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/queues", m.listQueues)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	if m.metrics != nil {
		r.Handle("/metrics", m.metrics.Handler())
	}

	return r
}

// StartServer starts serving and returns the URL of the monitor.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", errors.Wrap(err, "start monitor")
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger().WithError(err).Error("monitor stopped")
		}
	}()

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	return url, nil
}

// OpenBrowser opens the monitor in the default browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}

// Stop shuts the server down. It can be called more than once.
func (m *Monitor) Stop(ctx context.Context) error {
	var err error

	m.stopOnce.Do(func() {
		if m.server != nil {
			err = m.server.Shutdown(ctx)
		}
	})

	return err
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.pausedLock.Lock()
	defer m.pausedLock.Unlock()

	m.engine.Pause()
	m.userPaused = true

	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.pausedLock.Lock()
	defer m.pausedLock.Unlock()

	m.engine.Continue()
	m.userPaused = false

	w.WriteHeader(http.StatusOK)
}

// inspect runs fn while the engine is not handling events.
func (m *Monitor) inspect(fn func()) {
	m.pausedLock.Lock()
	defer m.pausedLock.Unlock()

	if m.engine == nil || m.userPaused {
		fn()
		return
	}

	m.engine.Pause()
	defer m.engine.Continue()

	fn()
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]float64{"now": float64(m.engine.CurrentTime())})
}

func (m *Monitor) reportProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.progress.Report(m.engine.CurrentTime()))
}

func (m *Monitor) listNodes(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.nodes))
	for _, n := range m.nodes {
		names = append(names, n.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) nodeDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var node *network.Node
	for _, n := range m.nodes {
		if n.Name() == name {
			node = n
		}
	}

	if node == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}

	buf := bytes.NewBuffer(nil)
	var err error

	m.inspect(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(node)
		serializer.SetMaxDepth(1)
		err = serializer.Serialize(buf)
	})

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

type interfaceRsp struct {
	Name      string                 `json:"name"`
	Link      string                 `json:"link,omitempty"`
	MAC       string                 `json:"mac"`
	Addresses []string               `json:"addresses"`
	Bridged   bool                   `json:"bridged"`
	Stats     network.InterfaceStats `json:"stats"`
}

func (m *Monitor) listInterfaces(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]interfaceRsp, 0, len(m.interfaces))

	m.inspect(func() {
		for _, iface := range m.interfaces {
			item := interfaceRsp{
				Name:    iface.Name(),
				MAC:     iface.MAC().String(),
				Bridged: iface.IsBridged(),
				Stats:   iface.Stats(),
			}

			if link := iface.Link(); link != nil {
				item.Link = link.Name()
			}

			for _, a := range iface.Addresses() {
				item.Addresses = append(item.Addresses, a.String())
			}

			rsp = append(rsp, item)
		}
	})

	writeJSON(w, rsp)
}

type relayRsp struct {
	Name      string      `json:"name"`
	Device    string      `json:"device"`
	Interface string      `json:"interface"`
	Stats     relay.Stats `json:"stats"`
}

func (m *Monitor) listRelays(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]relayRsp, 0, len(m.relays))
	for _, r := range m.relays {
		rsp = append(rsp, relayRsp{
			Name:      r.Name(),
			Device:    r.Device(),
			Interface: r.Interface().Name(),
			Stats:     r.Stats(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listQueues(w http.ResponseWriter, _ *http.Request) {
	if m.queues == nil {
		writeJSON(w, []QueueStats{})
		return
	}

	m.inspect(func() {
		writeJSON(w, m.queues.Stats())
	})
}

type bufferRsp struct {
	Buffer string `json:"buffer"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := buffersParseParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var rsp []bufferRsp

	m.inspect(func() {
		for _, b := range m.sortAndSelectBuffers(sortMethod, limit, offset) {
			rsp = append(rsp, bufferRsp{b.Name(), b.Size(), b.Capacity()})
		}
	})

	writeJSON(w, rsp)
}

func buffersParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, errors.Errorf(
			"invalid sort method %s, allowed values are level and percent",
			sortMethod)
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			return "", 0, 0, errors.Errorf("invalid limit %s", s)
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return "", 0, 0, errors.Errorf("invalid offset %s", s)
		}
	}

	return sortMethod, limit, offset, nil
}

func bufferPercent(b sim.Buffer) float64 {
	return float64(b.Size()) / float64(b.Capacity())
}

func (m *Monitor) sortAndSelectBuffers(
	sortMethod string,
	limit, offset int,
) []sim.Buffer {
	sorted := make([]sim.Buffer, len(m.buffers))
	copy(sorted, m.buffers)

	sort.SliceStable(sorted, func(i, j int) bool {
		sizeI, sizeJ := sorted[i].Size(), sorted[j].Size()
		percentI, percentJ := bufferPercent(sorted[i]), bufferPercent(sorted[j])

		if sortMethod == "level" {
			if sizeI != sizeJ {
				return sizeI > sizeJ
			}

			return percentI > percentJ
		}

		if percentI != percentJ {
			return percentI > percentJ
		}

		return sizeI > sizeJ
	})

	if offset > len(sorted) {
		offset = len(sorted)
	}
	sorted = sorted[offset:]

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	return sorted
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{CPUPercent: cpuPercent, MemorySize: memory.RSS})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("seconds"); s != "" {
		d, err := time.ParseDuration(s + "s")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		duration = d
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "monitoring")
}
