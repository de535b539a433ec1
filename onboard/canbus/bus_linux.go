//go:build linux

package canbus

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// CANBus is a SocketCAN raw socket bound to one interface.
type CANBus struct {
	listeners
	fd     int
	ifname string
	lock   sync.Mutex
	open   bool
	log    logrus.FieldLogger
}

func NewCANBus(ifname string) (bus *CANBus, err error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err = unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return
	}

	bus = &CANBus{
		fd:     fd,
		ifname: ifname,
		open:   true,
		log:    logrus.StandardLogger().WithField("bus", ifname),
	}

	go bus.reader()

	return
}

func (c *CANBus) AddListener(listener Listener) {
	c.add(listener)
}

func (c *CANBus) SendMsg(msg CANMsg) error {
	raw, err := msg.toByteArray()
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.open {
		return ERR_BUS_CLOSED
	}
	_, err = unix.Write(c.fd, raw)
	return err
}

func (c *CANBus) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.open {
		return nil
	}
	c.open = false
	return unix.Close(c.fd)
}

func (c *CANBus) isOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.open
}

func (c *CANBus) reader() {
	raw := make([]byte, frameSize)
	for c.isOpen() {
		n, err := unix.Read(c.fd, raw)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if c.isOpen() {
				c.log.WithError(err).Error("socketcan read failed, stopping reader")
			}
			return
		}

		msg, err := msgFromByteArray(raw[:n])
		if err != nil {
			c.log.WithError(err).Debug("dropping frame")
			continue
		}

		c.dispatch(msg)
	}
}
