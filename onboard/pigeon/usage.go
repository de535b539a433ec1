package pigeon

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// UsageFlags marks the driver features a device has used.
type UsageFlags uint32

const (
	UsageConnectCAN UsageFlags = 1 << iota
	UsageConnectTalonSRX
	UsageGetYPR
	UsageGetFused
	UsageGetCompass
	UsageTempComp
	UsageCalibration
)

// UsageSink receives the accumulated usage of a device each time a new flag is seen.
type UsageSink interface {
	Report(deviceIndex int, usage UsageFlags)
}

type LogUsageSink struct {
	Log logrus.FieldLogger
}

func (s LogUsageSink) Report(deviceIndex int, usage UsageFlags) {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{"device": deviceIndex, "usage": usage}).Info("pigeon usage")
}

// UsageStats keeps a usage bitmask per device index.
type UsageStats struct {
	lock  sync.Mutex
	sink  UsageSink
	usage map[int]UsageFlags
}

func NewUsageStats(sink UsageSink) *UsageStats {
	return &UsageStats{
		sink:  sink,
		usage: make(map[int]UsageFlags),
	}
}

// DefaultUsageStats is shared by every driver that is not given its own.
var DefaultUsageStats = NewUsageStats(LogUsageSink{})

// Init clears the record for deviceIndex.
func (u *UsageStats) Init(deviceIndex int) {
	u.lock.Lock()
	defer u.lock.Unlock()

	u.usage[deviceIndex] = 0
}

// Apply records flags for deviceIndex, reporting only when something new was set.
func (u *UsageStats) Apply(deviceIndex int, flags UsageFlags) {
	u.lock.Lock()
	current := u.usage[deviceIndex]
	if current&flags == flags {
		u.lock.Unlock()
		return
	}
	current |= flags
	u.usage[deviceIndex] = current
	u.lock.Unlock()

	if u.sink != nil {
		u.sink.Report(deviceIndex, current)
	}
}

func (u *UsageStats) Usage(deviceIndex int) UsageFlags {
	u.lock.Lock()
	defer u.lock.Unlock()

	return u.usage[deviceIndex]
}
