package tracing

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

const snapLen = 65536

// PcapFileName returns the capture file name of an interface.
func PcapFileName(prefix, node string, ifIndex int) string {
	return fmt.Sprintf("%s-%s-%d.pcap", prefix, node, ifIndex)
}

type pcapFile struct {
	path   string
	file   *os.File
	buf    *bufio.Writer
	writer *pcapgo.Writer
	frames int
}

// A PcapTracer writes one pcap file per captured interface. Timestamps are
// the simulated time counted from the Unix epoch.
type PcapTracer struct {
	dir    string
	prefix string

	lock   sync.Mutex
	files  map[string]*pcapFile
	closed bool
}

// NewPcapTracer creates a tracer that writes into dir. The files are flushed
// and closed when the program exits through atexit, or by Close.
func NewPcapTracer(dir, prefix string) (*PcapTracer, error) {
	if prefix == "" {
		return nil, errors.New("pcap prefix must not be empty")
	}

	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create pcap directory %s", dir)
	}

	t := &PcapTracer{
		dir:    dir,
		prefix: prefix,
		files:  make(map[string]*pcapFile),
	}

	atexit.Register(func() { _ = t.Close() })

	return t, nil
}

// Capture starts writing the frames of an interface to its own file.
func (t *PcapTracer) Capture(iface *network.Interface) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return errors.New("pcap tracer is closed")
	}

	if _, found := t.files[iface.Name()]; found {
		return errors.Errorf("interface %s is already captured", iface.Name())
	}

	path := filepath.Join(t.dir,
		PcapFileName(t.prefix, iface.Node().Name(), iface.Index()))

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}

	buf := bufio.NewWriter(file)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return errors.Wrapf(err, "write header of %s", path)
	}

	t.files[iface.Name()] = &pcapFile{
		path:   path,
		file:   file,
		buf:    buf,
		writer: w,
	}

	CollectFrames(iface, t)

	logger().WithFields(logrus.Fields{
		"interface": iface.Name(),
		"path":      path,
	}).Debug("capturing frames")

	return nil
}

// CaptureAll captures every interface that is attached to a link.
func (t *PcapTracer) CaptureAll(nw *network.Network) error {
	for _, iface := range nw.Interfaces() {
		if iface.IsLoopback() {
			continue
		}

		if err := t.Capture(iface); err != nil {
			return err
		}
	}

	return nil
}

// TraceFrame appends the frame to the file of the domain.
func (t *PcapTracer) TraceFrame(domain NamedHookable, f packet.Frame) {
	t.lock.Lock()
	defer t.lock.Unlock()

	pf, found := t.files[domain.Name()]
	if !found || t.closed {
		return
	}

	data := f.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0).Add(time.Duration(float64(f.Time()) * float64(time.Second))),
		CaptureLength: len(data),
		Length:        len(data),
	}

	if len(data) > snapLen {
		ci.CaptureLength = snapLen
		data = data[:snapLen]
	}

	if err := pf.writer.WritePacket(ci, data); err != nil {
		logger().WithField("path", pf.path).WithError(err).
			Warn("cannot write frame")
		return
	}

	pf.frames++
}

// Files returns the paths of the capture files, sorted.
func (t *PcapTracer) Files() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	paths := make([]string, 0, len(t.files))
	for _, pf := range t.files {
		paths = append(paths, pf.path)
	}
	sort.Strings(paths)

	return paths
}

// Flush writes the buffered frames to disk.
func (t *PcapTracer) Flush() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	var result *multierror.Error
	for _, pf := range t.files {
		if err := pf.buf.Flush(); err != nil {
			result = multierror.Append(result,
				errors.Wrapf(err, "flush %s", pf.path))
		}
	}

	return result.ErrorOrNil()
}

// Close flushes and closes all files. Later calls do nothing.
func (t *PcapTracer) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var result *multierror.Error
	for _, pf := range t.files {
		if err := pf.buf.Flush(); err != nil {
			result = multierror.Append(result,
				errors.Wrapf(err, "flush %s", pf.path))
		}

		if err := pf.file.Close(); err != nil {
			result = multierror.Append(result,
				errors.Wrapf(err, "close %s", pf.path))
		}

		logger().WithFields(logrus.Fields{
			"path":   pf.path,
			"frames": pf.frames,
		}).Debug("capture closed")
	}

	return result.ErrorOrNil()
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "tracing")
}
