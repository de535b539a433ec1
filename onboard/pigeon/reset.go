package pigeon

import (
	"fmt"
	"sync"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/Masterminds/semver"
)

type StartupStatus struct {
	ResetCount int
	ResetFlags int
	FirmVers   int // 0xMMmm
}

func DecodeStartupStatus(payload uint64) (s StartupStatus) {
	b := PayloadBytes(payload)
	s.ResetCount = int(b[0])<<8 | int(b[1])
	s.ResetFlags = int(b[2])<<8 | int(b[3])
	s.FirmVers = int(b[4])<<8 | int(b[5])
	return
}

func (s StartupStatus) Encode() uint64 {
	var b [8]byte
	b[0], b[1] = byte(s.ResetCount>>8), byte(s.ResetCount)
	b[2], b[3] = byte(s.ResetFlags>>8), byte(s.ResetFlags)
	b[4], b[5] = byte(s.FirmVers>>8), byte(s.FirmVers)
	return BytesPayload(b)
}

// FirmwareVersion renders 0xMMmm as a semantic version.
func FirmwareVersion(firmVers int) (*semver.Version, error) {
	return semver.NewVersion(fmt.Sprintf("%d.%d.0", (firmVers>>8)&0xFF, firmVers&0xFF))
}

// CheckFirmware reports FirmwareTooOld when firmVers does not satisfy constraint.
func CheckFirmware(firmVers int, constraint string) error {
	if constraint == "" {
		return nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}

	v, err := FirmwareVersion(firmVers)
	if err != nil {
		return err
	}

	if !c.Check(v) {
		return deverr.FirmwareTooOld
	}
	return nil
}

// ResetStats tracks the startup frame. The reset flag is edge triggered: it is set when a
// new startup frame is applied and cleared by the first HasResetOccurred after it.
type ResetStats struct {
	lock     sync.Mutex
	status   StartupStatus
	hasReset bool
}

func (r *ResetStats) Apply(s StartupStatus, reset bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.status = s
	if reset {
		r.hasReset = true
	}
}

func (r *ResetStats) Status() StartupStatus {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.status
}

func (r *ResetStats) HasResetOccurred() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	hasReset := r.hasReset
	r.hasReset = false
	return hasReset
}
