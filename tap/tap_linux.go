//go:build linux

package tap

import (
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

const cloneDevice = "/dev/net/tun"

// LinuxOpener attaches to existing tap devices through /dev/net/tun.
type LinuxOpener struct {
	// NetNS optionally names the network namespace that holds the devices,
	// either as a path or as a name under /var/run/netns.
	NetNS string
}

// Open attaches to the named tap device.
func (o LinuxOpener) Open(name string) (Device, error) {
	if name == "" || len(name) >= unix.IFNAMSIZ {
		return nil, errors.Errorf("invalid tap device name %q", name)
	}

	var dev Device
	err := o.inNetNS(func() error {
		if err := checkTapLink(name); err != nil {
			return err
		}

		var err error
		dev, err = attach(name)

		return err
	})
	if err != nil {
		return nil, err
	}

	return dev, nil
}

func checkTapLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return errors.Wrapf(ErrDeviceNotFound, "%s", name)
		}

		return mapErrno(err, "look up link "+name)
	}

	if _, ok := link.(*netlink.Tuntap); !ok {
		return errors.Wrapf(ErrDeviceNotFound,
			"%s is a %s link, not a tap device", name, link.Type())
	}

	return nil
}

func attach(name string) (Device, error) {
	fd, err := unix.Open(cloneDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, mapErrno(err, "open "+cloneDevice)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "invalid tap device name %q", name)
	}
	ifr.SetUint16(uint16(unix.IFF_TAP | unix.IFF_NO_PI))

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, mapErrno(err, "attach to "+name)
	}

	// A non-blocking fd is handled by the runtime poller, so closing the
	// file wakes up a pending Read.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "set %s non-blocking", name)
	}

	return &linuxDevice{
		name: name,
		file: os.NewFile(uintptr(fd), cloneDevice),
	}, nil
}

func mapErrno(err error, what string) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return errors.Wrap(ErrPermissionDenied, what)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV):
		return errors.Wrap(ErrDeviceNotFound, what)
	default:
		return errors.Wrap(err, what)
	}
}

func (o LinuxOpener) inNetNS(fn func() error) error {
	if o.NetNS == "" {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return errors.Wrap(err, "get current network namespace")
	}
	defer origin.Close()

	var target netns.NsHandle
	if strings.Contains(o.NetNS, "/") {
		target, err = netns.GetFromPath(o.NetNS)
	} else {
		target, err = netns.GetFromName(o.NetNS)
	}
	if err != nil {
		return mapErrno(err, "open network namespace "+o.NetNS)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return mapErrno(err, "enter network namespace "+o.NetNS)
	}
	defer func() {
		if err := netns.Set(origin); err != nil {
			logger().WithError(err).Error("cannot return to the original network namespace")
		}
	}()

	return fn()
}

type linuxDevice struct {
	name string
	file *os.File
}

func (d *linuxDevice) Name() string {
	return d.name
}

func (d *linuxDevice) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

func (d *linuxDevice) Write(p []byte) (int, error) {
	return d.file.Write(p)
}

func (d *linuxDevice) Close() error {
	return d.file.Close()
}
