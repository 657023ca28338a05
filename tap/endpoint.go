package tap

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/packet"
)

// Stats counts the traffic that went through an endpoint.
type Stats struct {
	RxPackets uint64 `json:"rx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxPackets uint64 `json:"tx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
}

// An Endpoint owns one open tap device. Send and ReceiveBlocking may be called
// from different goroutines. Close unblocks a pending ReceiveBlocking.
type Endpoint struct {
	dev Device

	readLock sync.Mutex
	buf      []byte

	closeOnce sync.Once
	closed    atomic.Bool

	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
	txPackets atomic.Uint64
	txBytes   atomic.Uint64
}

// NewEndpoint wraps an open device.
func NewEndpoint(dev Device) *Endpoint {
	return &Endpoint{
		dev: dev,
		buf: make([]byte, MaxFrameSize),
	}
}

// Name returns the host device name.
func (e *Endpoint) Name() string {
	return e.dev.Name()
}

// Send writes one frame to the host.
func (e *Endpoint) Send(f packet.Frame) error {
	if e.closed.Load() {
		return ErrClosed
	}

	data := f.Bytes()
	n, err := e.dev.Write(data)
	if err != nil {
		if e.closed.Load() || errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}

		return errors.Wrapf(err, "write to %s", e.Name())
	}

	if n != len(data) {
		return errors.Errorf("short write to %s: %d of %d bytes",
			e.Name(), n, len(data))
	}

	e.txPackets.Add(1)
	e.txBytes.Add(uint64(n))

	return nil
}

// ReceiveBlocking waits for the next frame from the host. It returns ErrClosed
// once the endpoint is closed.
func (e *Endpoint) ReceiveBlocking() (packet.Frame, error) {
	e.readLock.Lock()
	defer e.readLock.Unlock()

	for {
		if e.closed.Load() {
			return packet.Frame{}, ErrClosed
		}

		n, err := e.dev.Read(e.buf)
		if err != nil {
			if e.closed.Load() ||
				errors.Is(err, os.ErrClosed) ||
				errors.Is(err, io.EOF) {
				return packet.Frame{}, ErrClosed
			}

			return packet.Frame{}, errors.Wrapf(err, "read from %s", e.Name())
		}

		if n == 0 {
			continue
		}

		e.rxPackets.Add(1)
		e.rxBytes.Add(uint64(n))

		return packet.NewFrame(e.buf[:n], 0), nil
	}
}

// Close releases the device. Only the first call does anything, later calls
// return nil.
func (e *Endpoint) Close() error {
	var err error

	e.closeOnce.Do(func() {
		e.closed.Store(true)
		err = e.dev.Close()

		logger().WithField("device", e.Name()).Debug("tap endpoint closed")
	})

	return err
}

// IsClosed tells if Close has been called.
func (e *Endpoint) IsClosed() bool {
	return e.closed.Load()
}

// Stats returns the traffic counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		RxPackets: e.rxPackets.Load(),
		RxBytes:   e.rxBytes.Load(),
		TxPackets: e.txPackets.Load(),
		TxBytes:   e.txBytes.Load(),
	}
}
