package canbus

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ERR_BUS_CLOSED = errors.New("bus has been closed")
)

// Listener is called for every frame a bus receives. It runs on the bus reader and
// must not block.
type Listener func(msg CANMsg)

type CANBusInterface interface {
	SendMsg(msg CANMsg) error
	AddListener(listener Listener)
	Close() error
}

// listeners is the fan-out shared by every bus implementation.
type listeners struct {
	lock sync.RWMutex
	fns  []Listener
}

func (l *listeners) add(fn Listener) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.fns = append(l.fns, fn)
}

func (l *listeners) dispatch(msg CANMsg) {
	l.lock.RLock()
	fns := make([]Listener, len(l.fns))
	copy(fns, l.fns)
	l.lock.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// LoopbackBus is an in-process bus: every sent frame is delivered to every listener
// before SendMsg returns.
type LoopbackBus struct {
	listeners
	lock   sync.RWMutex
	open   bool
	log    logrus.FieldLogger
	txHook func(msg CANMsg) error
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{
		open: true,
		log:  logrus.StandardLogger().WithField("bus", "loopback"),
	}
}

func (b *LoopbackBus) AddListener(listener Listener) {
	b.add(listener)
}

// SetTxHook installs fn to run before delivery. A non-nil error aborts the send.
func (b *LoopbackBus) SetTxHook(fn func(msg CANMsg) error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.txHook = fn
}

func (b *LoopbackBus) SendMsg(msg CANMsg) error {
	if len(msg.Data) > msgMaxLength {
		return ERR_DATA_TOO_LONG
	}

	b.lock.RLock()
	open, hook := b.open, b.txHook
	b.lock.RUnlock()

	if !open {
		return ERR_BUS_CLOSED
	}
	if hook != nil {
		if err := hook(msg); err != nil {
			return err
		}
	}

	// listeners get their own copy so a later mutation by the sender is not observed
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	msg.Data = data

	b.log.WithFields(logrus.Fields{"arb_id": msg.ID, "len": len(data)}).Debug("loopback frame")
	b.dispatch(msg)

	return nil
}

func (b *LoopbackBus) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.open = false
	return nil
}
