//go:build !linux

package tap

import "github.com/pkg/errors"

// LinuxOpener attaches to existing tap devices. It only works on Linux.
type LinuxOpener struct {
	NetNS string
}

// Open always fails on this platform.
func (o LinuxOpener) Open(name string) (Device, error) {
	return nil, errors.Wrapf(ErrDeviceNotFound,
		"%s: tap devices are only supported on linux", name)
}
