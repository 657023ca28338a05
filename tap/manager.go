package tap

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// A Manager opens endpoints and makes sure each host device is bound at most
// once per run.
type Manager struct {
	opener Opener

	lock      sync.Mutex
	endpoints map[string]*Endpoint
	order     []string
}

// NewManager creates a Manager that opens devices with the given opener.
func NewManager(opener Opener) *Manager {
	return &Manager{
		opener:    opener,
		endpoints: make(map[string]*Endpoint),
	}
}

// Open binds the named device. A device can only be bound once, even after
// its endpoint is closed.
func (m *Manager) Open(name string) (*Endpoint, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, found := m.endpoints[name]; found {
		return nil, errors.Wrapf(ErrAlreadyBound, "%s", name)
	}

	dev, err := m.opener.Open(name)
	if err != nil {
		return nil, err
	}

	ep := NewEndpoint(dev)
	m.endpoints[name] = ep
	m.order = append(m.order, name)

	logger().WithField("device", name).Info("tap device bound")

	return ep, nil
}

// Get returns the endpoint bound to the named device.
func (m *Manager) Get(name string) (*Endpoint, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ep, found := m.endpoints[name]

	return ep, found
}

// Endpoints returns all endpoints in the order they were opened.
func (m *Manager) Endpoints() []*Endpoint {
	m.lock.Lock()
	defer m.lock.Unlock()

	eps := make([]*Endpoint, 0, len(m.order))
	for _, name := range m.order {
		eps = append(eps, m.endpoints[name])
	}

	return eps
}

// CloseAll closes every endpoint. It is safe to call more than once.
func (m *Manager) CloseAll() error {
	var result *multierror.Error

	for _, ep := range m.Endpoints() {
		if err := ep.Close(); err != nil {
			result = multierror.Append(result,
				errors.Wrapf(err, "close %s", ep.Name()))
		}
	}

	return result.ErrorOrNil()
}
