// Package tap binds host tap devices to the simulation. It opens devices that
// already exist on the host and moves raw Ethernet frames in and out of them.
package tap

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Errors returned when binding and using tap devices.
var (
	ErrDeviceNotFound   = errors.New("tap device not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrClosed           = errors.New("tap endpoint closed")
	ErrAlreadyBound     = errors.New("tap device already bound")
)

// MaxFrameSize is the size of the buffer used to read one frame.
const MaxFrameSize = 65536

// A Device is an open handle on a host tap device. Each Read returns exactly
// one frame and each Write sends exactly one frame.
type Device interface {
	io.ReadWriteCloser
	Name() string
}

// An Opener attaches to tap devices by name. It never creates devices.
type Opener interface {
	Open(name string) (Device, error)
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "tap")
}
