package pigeon

import (
	"sync"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
)

type manualClock struct {
	lock   sync.Mutex
	now    time.Time
	sleeps int
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *manualClock) Sleep(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
}

func (c *manualClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

type usageReport struct {
	device int
	usage  UsageFlags
}

type fakeSink struct {
	lock    sync.Mutex
	reports []usageReport
}

func (s *fakeSink) Report(deviceIndex int, usage UsageFlags) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.reports = append(s.reports, usageReport{deviceIndex, usage})
}

func (s *fakeSink) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.reports)
}

// testRig is a driver on a frame cache on a loopback bus, all on a manual clock.
type testRig struct {
	clock *manualClock
	bus   *canbus.LoopbackBus
	cache *canbus.FrameCache
	sink  *fakeSink
	imu   *PigeonIMU
	ids   ArbIDMap
	sent  []canbus.CANMsg
	lock  sync.Mutex
}

func newTestRig(deviceNumber int) *testRig {
	r := &testRig{
		clock: newManualClock(),
		bus:   canbus.NewLoopbackBus(),
		sink:  &fakeSink{},
	}
	r.bus.SetTxHook(func(msg canbus.CANMsg) error {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.sent = append(r.sent, msg)
		return nil
	})
	r.cache = canbus.NewFrameCache(r.bus, canbus.WithClock(r.clock))

	imu, err := NewPigeonIMU(r.cache, deviceNumber, WithClock(r.clock), WithUsageStats(NewUsageStats(r.sink)))
	if err != nil {
		panic(err)
	}
	r.imu = imu
	r.ids = imu.IDs()
	return r
}

func (r *testRig) inject(kind FrameKind, payload uint64) {
	r.cache.Inject(r.ids.ID(kind), payload, 8)
}

func (r *testRig) lastSent() canbus.CANMsg {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.sent) == 0 {
		return canbus.CANMsg{}
	}
	return r.sent[len(r.sent)-1]
}

func (r *testRig) sentCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sent)
}

// echoParams answers every PARAM_SET and PARAM_REQUEST with a PARAM_RESPONSE. respond may
// rewrite the reply or return false to stay silent.
func (r *testRig) echoParams(respond func(req ParamFrame) (ParamFrame, bool)) {
	r.bus.AddListener(func(msg canbus.CANMsg) {
		kind, ok := r.ids.Kind(msg.ID)
		if !ok || (kind != PARAM_SET && kind != PARAM_REQUEST) {
			return
		}

		resp, ok := respond(DecodeParamFrame(msg.Payload()))
		if !ok {
			return
		}
		r.bus.SendMsg(canbus.NewMsg(r.ids.ID(PARAM_RESPONSE), resp.Encode(), PARAM_FRAME_LENGTH))
	})
}

// jitterClock moves forward by step on every read, like a busy scheduler between two
// calls to time.Now.
type jitterClock struct {
	lock sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *jitterClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *jitterClock) Sleep(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}
