package tap

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const memoryQueueDepth = 1024

type memoryItem struct {
	data []byte
	err  error
}

// memoryDevice is the kernel side of an in-memory tap device.
type memoryDevice struct {
	name     string
	loopback bool

	toUser   chan memoryItem
	fromUser chan []byte

	lock     sync.Mutex
	opened   bool
	writeErr error
}

// MemoryHost stands in for the host kernel in tests. Devices are created on
// it out-of-band, like tap devices created by an administrator, and then
// opened through the Opener interface.
type MemoryHost struct {
	lock    sync.Mutex
	devices map[string]*memoryDevice
	denied  map[string]bool
}

// NewMemoryHost creates a host without devices.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		devices: make(map[string]*memoryDevice),
		denied:  make(map[string]bool),
	}
}

// CreateDevice adds a device and returns the host side of it.
func (h *MemoryHost) CreateDevice(name string) *HostPort {
	dev := h.create(name, false)
	return &HostPort{dev: dev}
}

// CreateLoopback adds a device that hands every sent frame back to the
// reader.
func (h *MemoryHost) CreateLoopback(name string) {
	h.create(name, true)
}

// Deny makes opening the named device fail with ErrPermissionDenied.
func (h *MemoryHost) Deny(name string) {
	h.lock.Lock()
	h.denied[name] = true
	h.lock.Unlock()
}

func (h *MemoryHost) create(name string, loopback bool) *memoryDevice {
	h.lock.Lock()
	defer h.lock.Unlock()

	dev := &memoryDevice{
		name:     name,
		loopback: loopback,
		toUser:   make(chan memoryItem, memoryQueueDepth),
		fromUser: make(chan []byte, memoryQueueDepth),
	}
	h.devices[name] = dev

	return dev
}

// Open attaches to a device previously created on the host.
func (h *MemoryHost) Open(name string) (Device, error) {
	h.lock.Lock()
	dev, found := h.devices[name]
	denied := h.denied[name]
	h.lock.Unlock()

	if denied {
		return nil, errors.Wrapf(ErrPermissionDenied, "attach to %s", name)
	}

	if !found {
		return nil, errors.Wrapf(ErrDeviceNotFound, "%s", name)
	}

	dev.lock.Lock()
	defer dev.lock.Unlock()

	if dev.opened {
		return nil, errors.Errorf("attach to %s: device busy", name)
	}
	dev.opened = true

	return &memoryHandle{dev: dev, closed: make(chan struct{})}, nil
}

type memoryHandle struct {
	dev       *memoryDevice
	closed    chan struct{}
	closeOnce sync.Once
}

func (m *memoryHandle) Name() string {
	return m.dev.name
}

func (m *memoryHandle) Read(p []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, os.ErrClosed
	default:
	}

	select {
	case item := <-m.dev.toUser:
		if item.err != nil {
			return 0, item.err
		}

		return copy(p, item.data), nil
	case <-m.closed:
		return 0, os.ErrClosed
	}
}

func (m *memoryHandle) Write(p []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, os.ErrClosed
	default:
	}

	m.dev.lock.Lock()
	writeErr := m.dev.writeErr
	m.dev.lock.Unlock()

	if writeErr != nil {
		return 0, writeErr
	}

	data := make([]byte, len(p))
	copy(data, p)

	if m.dev.loopback {
		select {
		case m.dev.toUser <- memoryItem{data: data}:
		case <-m.closed:
			return 0, os.ErrClosed
		}

		return len(p), nil
	}

	select {
	case m.dev.fromUser <- data:
	case <-m.closed:
		return 0, os.ErrClosed
	}

	return len(p), nil
}

func (m *memoryHandle) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)

		m.dev.lock.Lock()
		m.dev.opened = false
		m.dev.lock.Unlock()
	})

	return nil
}

// HostPort is the host side of an in-memory device. Frames injected here are
// read by the endpoint, and frames the endpoint sends can be read here.
type HostPort struct {
	dev *memoryDevice
}

// Inject hands one frame to the endpoint reading the device.
func (p *HostPort) Inject(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.dev.toUser <- memoryItem{data: buf}
}

// InjectError makes the next read on the device fail with err.
func (p *HostPort) InjectError(err error) {
	p.dev.toUser <- memoryItem{err: err}
}

// FailWrites makes all writes to the device fail with err. A nil err clears
// the failure.
func (p *HostPort) FailWrites(err error) {
	p.dev.lock.Lock()
	p.dev.writeErr = err
	p.dev.lock.Unlock()
}

// Read returns the next frame sent by the endpoint, or false if none arrives
// within the timeout.
func (p *HostPort) Read(timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-p.dev.fromUser:
		return data, true
	case <-timer.C:
		return nil, false
	}
}

// Sent exposes the frames sent by the endpoint as a channel.
func (p *HostPort) Sent() <-chan []byte {
	return p.dev.fromUser
}
