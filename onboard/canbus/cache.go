package canbus

import (
	"sort"
	"sync"
	"time"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/sirupsen/logrus"
)

const (
	// overall threshold for when frame data is too old
	EXPECTED_RESPONSE_TIMEOUT = 200 * time.Millisecond
)

// Frame is a consistent snapshot of the latest frame received for one arbitration ID.
type Frame struct {
	ArbID   uint32
	Payload uint64
	Length  int
	Age     time.Duration
	RxTime  time.Time
	Seq     uint64 // receive counter, increases with every frame the cache stores
}

// Transport is the capability set the device drivers need from a bus.
type Transport interface {
	// Send transmits a frame once when period is zero, otherwise repeats it every period
	// until replaced by another Send for the same arbitration ID.
	Send(arbID uint32, payload uint64, length int, period time.Duration) error
	// Receive returns the latest frame for arbID. Frames older than the stale threshold
	// are an RxTimeout unless allowStale is set. Frames never received are always RxTimeout.
	Receive(arbID uint32, allowStale bool) (Frame, error)
}

type slot struct {
	payload uint64
	length  int
	rxTime  time.Time
	seq     uint64
}

// FrameCache is the Transport over a CANBusInterface. It keeps the latest frame per
// arbitration ID and owns the periodic transmit jobs.
type FrameCache struct {
	bus      CANBusInterface
	clock    Clock
	stale    time.Duration
	lock     sync.RWMutex
	slots    map[uint32]slot
	seq      uint64
	periodic map[uint32]chan struct{}
	log      logrus.FieldLogger
}

type CacheOption func(c *FrameCache)

func WithClock(clock Clock) CacheOption {
	return func(c *FrameCache) {
		c.clock = clock
	}
}

func WithStaleThreshold(d time.Duration) CacheOption {
	return func(c *FrameCache) {
		if d > 0 {
			c.stale = d
		}
	}
}

func WithCacheLogger(log logrus.FieldLogger) CacheOption {
	return func(c *FrameCache) {
		c.log = log
	}
}

func NewFrameCache(bus CANBusInterface, opts ...CacheOption) *FrameCache {
	c := &FrameCache{
		bus:      bus,
		clock:    SystemClock{},
		stale:    EXPECTED_RESPONSE_TIMEOUT,
		slots:    make(map[uint32]slot),
		periodic: make(map[uint32]chan struct{}),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if bus != nil {
		bus.AddListener(c.store)
	}

	return c
}

func (c *FrameCache) store(msg CANMsg) {
	c.Inject(msg.ID, msg.Payload(), len(msg.Data))
}

// Inject records a frame as if it had just been received.
func (c *FrameCache) Inject(arbID uint32, payload uint64, length int) {
	now := c.clock.Now()

	c.lock.Lock()
	c.seq++
	c.slots[arbID&CAN_EFF_MASK] = slot{payload: payload, length: length, rxTime: now, seq: c.seq}
	c.lock.Unlock()
}

func (c *FrameCache) Receive(arbID uint32, allowStale bool) (Frame, error) {
	frame := Frame{ArbID: arbID}

	c.lock.RLock()
	s, ok := c.slots[arbID]
	c.lock.RUnlock()

	if !ok {
		return frame, deverr.RxTimeout
	}

	frame.Payload = s.payload
	frame.Length = s.length
	frame.RxTime = s.rxTime
	frame.Seq = s.seq
	frame.Age = c.clock.Now().Sub(s.rxTime)
	if frame.Age < 0 {
		frame.Age = 0
	}

	if !allowStale && frame.Age > c.stale {
		return frame, deverr.RxTimeout
	}

	return frame, nil
}

func (c *FrameCache) Send(arbID uint32, payload uint64, length int, period time.Duration) error {
	if arbID > CAN_EFF_MASK {
		return deverr.UnexpectedArbId
	}
	if length < 0 || length > msgMaxLength || period < 0 {
		return deverr.InvalidParamValue
	}

	c.stopPeriodic(arbID)

	msg := NewMsg(arbID, payload, length)
	if err := c.bus.SendMsg(msg); err != nil {
		c.log.WithError(err).WithField("arb_id", arbID).Warn("failed to send frame")
		return deverr.TxFailed
	}
	c.log.WithFields(logrus.Fields{"arb_id": arbID, "len": length, "period": period}).Debug("sent frame")

	if period > 0 {
		stop := make(chan struct{})

		c.lock.Lock()
		if prev, ok := c.periodic[arbID]; ok {
			close(prev)
		}
		c.periodic[arbID] = stop
		c.lock.Unlock()

		go c.repeat(msg, period, stop)
	}

	return nil
}

func (c *FrameCache) repeat(msg CANMsg, period time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.bus.SendMsg(msg); err != nil {
				c.log.WithError(err).WithField("arb_id", msg.ID).Warn("failed to repeat frame")
			}
		}
	}
}

func (c *FrameCache) stopPeriodic(arbID uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if stop, ok := c.periodic[arbID]; ok {
		close(stop)
		delete(c.periodic, arbID)
	}
}

// Frames lists every cached frame ordered by arbitration ID.
func (c *FrameCache) Frames() []Frame {
	now := c.clock.Now()

	c.lock.RLock()
	frames := make([]Frame, 0, len(c.slots))
	for id, s := range c.slots {
		frames = append(frames, Frame{
			ArbID:   id,
			Payload: s.payload,
			Length:  s.length,
			Age:     now.Sub(s.rxTime),
			RxTime:  s.rxTime,
			Seq:     s.seq,
		})
	}
	c.lock.RUnlock()

	sort.Slice(frames, func(i, j int) bool { return frames[i].ArbID < frames[j].ArbID })
	return frames
}

// Close stops every periodic transmission. The bus itself is left open.
func (c *FrameCache) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for id, stop := range c.periodic {
		close(stop)
		delete(c.periodic, id)
	}
}
