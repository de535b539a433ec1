//go:build !linux

package canbus

import (
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
)

// CANBus is only available on linux where SocketCAN exists.
type CANBus struct {
	listeners
}

func NewCANBus(ifname string) (bus *CANBus, err error) {
	return nil, deverr.UnsupportedBusError{Kind: "socketcan"}
}

func (c *CANBus) AddListener(listener Listener) {
	c.add(listener)
}

func (c *CANBus) SendMsg(msg CANMsg) error {
	return deverr.UnsupportedBusError{Kind: "socketcan"}
}

func (c *CANBus) Close() error {
	return nil
}
