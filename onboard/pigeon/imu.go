package pigeon

import (
	"fmt"
	"sync"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
)

const (
	FIRM_STATUS_PERIOD = 100 * time.Millisecond
	CONTROL_1_LENGTH   = 1
)

// PigeonIMU drives a single Pigeon IMU through a Transport.
type PigeonIMU struct {
	ids       ArbIDMap
	viaTalon  bool
	transport canbus.Transport
	params    *ParamProtocol
	clock     canbus.Clock
	usage     *UsageStats
	log       logrus.FieldLogger

	resets ResetStats

	lock       sync.Mutex
	lastError  deverr.ErrorCode
	startupSeq uint64
}

type Option func(p *PigeonIMU)

// WithClock sets the time source for parameter polling.
func WithClock(clock canbus.Clock) Option {
	return func(p *PigeonIMU) {
		p.clock = clock
	}
}

func WithUsageStats(usage *UsageStats) Option {
	return func(p *PigeonIMU) {
		p.usage = usage
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *PigeonIMU) {
		p.log = log
	}
}

// NewPigeonIMU creates the driver for a Pigeon connected directly to the CAN bus.
func NewPigeonIMU(transport canbus.Transport, deviceNumber int, opts ...Option) (*PigeonIMU, error) {
	return newPigeonIMU(transport, deviceNumber, false, opts)
}

// NewPigeonIMUViaTalon creates the driver for a Pigeon on a Talon SRX ribbon cable.
// deviceNumber is the Talon's device number.
func NewPigeonIMUViaTalon(transport canbus.Transport, deviceNumber int, opts ...Option) (*PigeonIMU, error) {
	return newPigeonIMU(transport, deviceNumber, true, opts)
}

func newPigeonIMU(transport canbus.Transport, deviceNumber int, viaTalon bool, opts []Option) (p *PigeonIMU, err error) {
	ids, err := NewArbIDMap(deviceNumber, viaTalon)
	if err != nil {
		return
	}

	p = &PigeonIMU{
		ids:       ids,
		viaTalon:  viaTalon,
		transport: transport,
		clock:     canbus.SystemClock{},
		usage:     DefaultUsageStats,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("device", deviceNumber)
	p.params = NewParamProtocol(transport, ids, p.clock, p.log)

	p.usage.Init(p.usageIndex())
	if viaTalon {
		p.usage.Apply(p.usageIndex(), UsageConnectTalonSRX)
	} else {
		p.usage.Apply(p.usageIndex(), UsageConnectCAN)
	}

	return p, nil
}

func (p *PigeonIMU) usageIndex() int {
	return p.ids.DeviceNumber() + 1
}

// handleError mirrors err into the last error slot.
func (p *PigeonIMU) handleError(err error) error {
	p.lock.Lock()
	p.lastError = deverr.Code(err)
	p.lock.Unlock()

	return err
}

func (p *PigeonIMU) GetLastError() deverr.ErrorCode {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.lastError
}

func (p *PigeonIMU) GetDeviceNumber() int {
	return p.ids.DeviceNumber()
}

func (p *PigeonIMU) IDs() ArbIDMap {
	return p.ids
}

func (p *PigeonIMU) String() string {
	if p.viaTalon {
		return fmt.Sprintf("PigeonIMU(talon %d)", p.ids.DeviceNumber())
	}
	return fmt.Sprintf("PigeonIMU(%d)", p.ids.DeviceNumber())
}

func (p *PigeonIMU) receive(kind FrameKind, allowStale bool) (canbus.Frame, error) {
	frame, err := p.transport.Receive(p.ids.ID(kind), allowStale)
	if err != nil {
		p.log.WithFields(logrus.Fields{"frame": kind, "age": frame.Age}).Debug("frame not available")
	}
	return frame, err
}

func timeoutFromMs(timeoutMs int) time.Duration {
	return time.Duration(timeoutMs) * time.Millisecond
}

//----- parameters -----//

// ConfigSetParameter writes value using the parameter's own encoding.
func (p *PigeonIMU) ConfigSetParameter(param ParamEnum, value float64, timeoutMs int) error {
	return p.handleError(p.params.ConfigSet(param, EncodeParamValue(param, value), 0, 0, timeoutFromMs(timeoutMs)))
}

// ConfigSetRaw writes the raw 32 bit value, subValue and ordinal of a parameter.
func (p *PigeonIMU) ConfigSetRaw(param ParamEnum, value int32, subValue uint8, ordinal int, timeoutMs int) error {
	return p.handleError(p.params.ConfigSet(param, value, subValue, ordinal, timeoutFromMs(timeoutMs)))
}

func (p *PigeonIMU) ConfigGetParameter(param ParamEnum, ordinal int, timeoutMs int) (value float64, err error) {
	raw, err := p.params.ConfigGet(param, ordinal, timeoutFromMs(timeoutMs))
	if err != nil {
		return 0, p.handleError(err)
	}
	return DecodeParamValue(param, raw), p.handleError(nil)
}

// ConfigGetRaw reads the undecoded 32 bit value of a parameter.
func (p *PigeonIMU) ConfigGetRaw(param ParamEnum, ordinal int, timeoutMs int) (value int32, err error) {
	value, err = p.params.ConfigGet(param, ordinal, timeoutFromMs(timeoutMs))
	return value, p.handleError(err)
}

// RequestParam and PollForParamResponse split a read so the caller can wait elsewhere.
func (p *PigeonIMU) RequestParam(param ParamEnum, value int32, subValue uint8, ordinal int) error {
	return p.handleError(p.params.RequestParam(param, value, subValue, ordinal))
}

func (p *PigeonIMU) PollForParamResponse(param ParamEnum, ordinal int) (value int32, state RequestState, err error) {
	value, state, err = p.params.PollForParamResponse(param, ordinal)
	return value, state, p.handleError(err)
}

func (p *PigeonIMU) configTare(param ParamEnum, tare TareType, angleDeg float64, timeoutMs int) error {
	value := EncodeParamValue(param, angleDeg)
	return p.handleError(p.params.ConfigSet(param, value, uint8(tare), 0, timeoutFromMs(timeoutMs)))
}

func (p *PigeonIMU) SetStatusFrameRateMs(frame StatusFrame, periodMs int, timeoutMs int) error {
	if _, ok := frame.Frame(); !ok || periodMs < 0 {
		return p.handleError(deverr.InvalidParamValue)
	}
	return p.handleError(p.params.ConfigSet(StatusFrameRate, int32(periodMs), uint8(frame), 0, timeoutFromMs(timeoutMs)))
}

// GetStatusFramePeriodMs reads back the period the device uses for a status frame.
func (p *PigeonIMU) GetStatusFramePeriodMs(frame StatusFrame, timeoutMs int) (periodMs int, err error) {
	if _, ok := frame.Frame(); !ok {
		return 0, p.handleError(deverr.InvalidParamValue)
	}
	raw, err := p.params.ConfigGetWithValue(StatusFramePeriod, int32(frame), 0, 0, timeoutFromMs(timeoutMs))
	return int(raw), p.handleError(err)
}

func (p *PigeonIMU) SetYaw(angleDeg float64, timeoutMs int) error {
	return p.configTare(YawOffset, SetValue, angleDeg, timeoutMs)
}

func (p *PigeonIMU) AddYaw(angleDeg float64, timeoutMs int) error {
	return p.configTare(YawOffset, AddOffset, angleDeg, timeoutMs)
}

func (p *PigeonIMU) SetYawToCompass(timeoutMs int) error {
	return p.configTare(YawOffset, MatchCompass, 0, timeoutMs)
}

func (p *PigeonIMU) SetFusedHeading(angleDeg float64, timeoutMs int) error {
	return p.configTare(FusedHeadingOffset, SetValue, angleDeg, timeoutMs)
}

func (p *PigeonIMU) AddFusedHeading(angleDeg float64, timeoutMs int) error {
	return p.configTare(FusedHeadingOffset, AddOffset, angleDeg, timeoutMs)
}

func (p *PigeonIMU) SetFusedHeadingToCompass(timeoutMs int) error {
	return p.configTare(FusedHeadingOffset, MatchCompass, 0, timeoutMs)
}

func (p *PigeonIMU) SetAccumZAngle(angleDeg float64, timeoutMs int) error {
	return p.configTare(AccumZ, SetValue, angleDeg, timeoutMs)
}

func (p *PigeonIMU) SetCompassDeclination(angleDegOffset float64, timeoutMs int) error {
	return p.configTare(CompassOffset, SetOffset, angleDegOffset, timeoutMs)
}

func (p *PigeonIMU) SetCompassAngle(angleDeg float64, timeoutMs int) error {
	return p.configTare(CompassOffset, SetValue, angleDeg, timeoutMs)
}

func (p *PigeonIMU) EnableTemperatureCompensation(enable bool, timeoutMs int) error {
	var disable int32
	if !enable {
		disable = 1
	}
	p.usage.Apply(p.usageIndex(), UsageTempComp)
	return p.handleError(p.params.ConfigSet(TempCompDisable, disable, 0, 0, timeoutFromMs(timeoutMs)))
}

func (p *PigeonIMU) EnterCalibrationMode(mode CalibrationMode, timeoutMs int) error {
	if _, ok := calibrationModeNames[mode]; !ok {
		return p.handleError(deverr.InvalidParamValue)
	}
	p.usage.Apply(p.usageIndex(), UsageCalibration)
	return p.handleError(p.params.ConfigSet(EnterCalibration, int32(mode), 0, 0, timeoutFromMs(timeoutMs)))
}

// EnableFirmStatusFrame keeps CONTROL_1 repeating with the status bit set, or sends it
// once with the bit clear.
func (p *PigeonIMU) EnableFirmStatusFrame(enable bool) error {
	if enable {
		return p.handleError(p.transport.Send(p.ids.ID(CONTROL_1), 0x01, CONTROL_1_LENGTH, FIRM_STATUS_PERIOD))
	}
	return p.handleError(p.transport.Send(p.ids.ID(CONTROL_1), 0x00, CONTROL_1_LENGTH, 0))
}

//----- status -----//

func (p *PigeonIMU) GetGeneralStatus() (GeneralStatus, error) {
	frame, err := p.receive(COND_STATUS_1, false)

	var fields GeneralStatusFields
	if err == nil {
		fields = DecodeGeneralStatus(frame.Payload)
	}

	return InterpretGeneralStatus(err, fields), p.handleError(err)
}

func (p *PigeonIMU) GetState() (PigeonState, error) {
	frame, err := p.receive(COND_STATUS_1, false)
	if err != nil {
		return NoComm, p.handleError(err)
	}
	return DecodeGeneralStatus(frame.Payload).State, p.handleError(nil)
}

func (p *PigeonIMU) GetTemp() (float64, error) {
	frame, err := p.receive(COND_STATUS_1, false)
	if err != nil {
		return 0, p.handleError(err)
	}
	return DecodeGeneralStatus(frame.Payload).TempC, p.handleError(nil)
}

func (p *PigeonIMU) GetUpTime() (int, error) {
	frame, err := p.receive(COND_STATUS_1, false)
	if err != nil {
		return 0, p.handleError(err)
	}
	return DecodeGeneralStatus(frame.Payload).UpTimeSec, p.handleError(nil)
}

//----- signals -----//

func (p *PigeonIMU) params20(kind FrameKind, scalar float64) (out [3]float64, err error) {
	frame, err := p.receive(kind, false)
	if err != nil {
		return out, p.handleError(err)
	}
	return ScaledParams20(frame.Payload, scalar), p.handleError(nil)
}

func (p *PigeonIMU) params16(kind FrameKind) (out [3]int16, err error) {
	frame, err := p.receive(kind, false)
	if err != nil {
		return out, p.handleError(err)
	}
	words := DecodeParams16(frame.Payload)
	copy(out[:], words[:3])
	return out, p.handleError(nil)
}

func (p *PigeonIMU) scaled16(kind FrameKind, scalar float64) (out [3]float64, err error) {
	frame, err := p.receive(kind, false)
	if err != nil {
		return out, p.handleError(err)
	}
	copy(out[:], ScaledParams16(frame.Payload, 3, scalar))
	return out, p.handleError(nil)
}

// GetYawPitchRoll returns yaw, pitch and roll in degrees.
func (p *PigeonIMU) GetYawPitchRoll() ([3]float64, error) {
	p.usage.Apply(p.usageIndex(), UsageGetYPR)
	return p.params20(COND_STATUS_9, ANGLE_SCALAR)
}

func (p *PigeonIMU) Get6dQuaternion() (q mgl64.Quat, err error) {
	frame, err := p.receive(COND_STATUS_10, false)
	if err != nil {
		return q, p.handleError(err)
	}

	wxyz := ScaledParams16(frame.Payload, 4, QUAT_SCALAR)
	q = mgl64.Quat{W: wxyz[0], V: mgl64.Vec3{wxyz[1], wxyz[2], wxyz[3]}}
	return q, p.handleError(nil)
}

// GetAccumGyro returns the accumulated rotation about x, y and z in degrees.
func (p *PigeonIMU) GetAccumGyro() ([3]float64, error) {
	return p.params20(COND_STATUS_11, ANGLE_SCALAR)
}

// GetAbsoluteCompassHeading returns the compass heading bounded to [0, 360).
func (p *PigeonIMU) GetAbsoluteCompassHeading() (float64, error) {
	heading, err := p.GetCompassHeading()
	if err != nil {
		return 0, err
	}
	return BoundAngle(heading, 0, 360), nil
}

// GetCompassHeading returns the continuous compass heading in degrees.
func (p *PigeonIMU) GetCompassHeading() (float64, error) {
	p.usage.Apply(p.usageIndex(), UsageGetCompass)
	sigs, err := p.params20(COND_STATUS_2, 1)
	return sigs[0] * ANGLE_SCALAR, err
}

// GetCompassFieldStrength returns the magnetic field strength in micro tesla.
func (p *PigeonIMU) GetCompassFieldStrength() (float64, error) {
	sigs, err := p.params20(COND_STATUS_2, 1)
	return sigs[1] * FIELD_SCALAR, err
}

func (p *PigeonIMU) GetRawMagnetometer() ([3]int16, error) {
	return p.params16(RAW_STATUS_4)
}

func (p *PigeonIMU) GetBiasedMagnetometer() ([3]int16, error) {
	return p.params16(BIASED_STATUS_4)
}

func (p *PigeonIMU) GetBiasedAccelerometer() ([3]int16, error) {
	return p.params16(BIASED_STATUS_6)
}

// GetRawGyro returns the angular rates in degrees per second.
func (p *PigeonIMU) GetRawGyro() ([3]float64, error) {
	return p.scaled16(BIASED_STATUS_2, GYRO_SCALAR)
}

// GetAccelerometerAngles returns the tilt angles bounded to [-180, 180).
func (p *PigeonIMU) GetAccelerometerAngles() (angles [3]float64, err error) {
	angles, err = p.scaled16(COND_STATUS_3, TILT_SCALAR)
	for i := range angles {
		angles[i] = BoundAngle(angles[i], -180, 180)
	}
	return
}

func (p *PigeonIMU) GetFusedHeading() (FusionStatus, error) {
	p.usage.Apply(p.usageIndex(), UsageGetFused)

	frame, err := p.receive(COND_STATUS_6, false)

	var heading float64
	var valid, fusing bool
	if err == nil {
		heading, valid, fusing = DecodeFusion(frame.Payload)
	}

	return InterpretFusionStatus(err, heading, valid, fusing), p.handleError(err)
}

// Reading is the broadcast state of a Pigeon at one instant.
type Reading struct {
	Status GeneralStatus
	YPR    [3]float64
	Fused  FusionStatus
}

// Peek reads the general, YPR and fusion frames for monitoring. Unlike the getters it
// leaves the last error and the usage stats alone. The error is the first frame that
// could not be read; nothing past a missing general frame is read.
func (p *PigeonIMU) Peek() (r Reading, err error) {
	frame, err := p.receive(COND_STATUS_1, false)
	var fields GeneralStatusFields
	if err == nil {
		fields = DecodeGeneralStatus(frame.Payload)
	}
	r.Status = InterpretGeneralStatus(err, fields)
	if err != nil {
		return
	}

	if frame, err = p.receive(COND_STATUS_9, false); err == nil {
		r.YPR = ScaledParams20(frame.Payload, ANGLE_SCALAR)
	}

	var heading float64
	var valid, fusing bool
	fusedFrame, fusedErr := p.receive(COND_STATUS_6, false)
	if fusedErr == nil {
		heading, valid, fusing = DecodeFusion(fusedFrame.Payload)
	}
	r.Fused = InterpretFusionStatus(fusedErr, heading, valid, fusing)

	if err == nil {
		err = fusedErr
	}
	return
}

//----- startup -----//

// startup refreshes the reset stats from the startup frame. Any frame is accepted, however
// old. Every new receipt of the frame marks a reset, even with an unchanged payload.
func (p *PigeonIMU) startup() (StartupStatus, error) {
	frame, err := p.receive(STARTUP_STATUS, true)
	if err != nil {
		return StartupStatus{}, err
	}

	p.lock.Lock()
	fresh := frame.Seq != p.startupSeq
	if fresh {
		p.startupSeq = frame.Seq
	}
	p.lock.Unlock()

	status := DecodeStartupStatus(frame.Payload)
	p.resets.Apply(status, fresh)
	if fresh {
		p.log.WithFields(logrus.Fields{"resets": status.ResetCount, "flags": status.ResetFlags}).Info("pigeon startup observed")
	}

	return p.resets.Status(), nil
}

func (p *PigeonIMU) GetResetCount() (int, error) {
	status, err := p.startup()
	return status.ResetCount, p.handleError(err)
}

func (p *PigeonIMU) GetResetFlags() (int, error) {
	status, err := p.startup()
	return status.ResetFlags, p.handleError(err)
}

// GetFirmVers returns the firmware version as 0xMMmm.
func (p *PigeonIMU) GetFirmVers() (int, error) {
	status, err := p.startup()
	return status.FirmVers, p.handleError(err)
}

// HasResetOccurred reports true once per observed startup frame.
func (p *PigeonIMU) HasResetOccurred() (bool, error) {
	if _, err := p.startup(); err != nil {
		return false, p.handleError(err)
	}
	return p.resets.HasResetOccurred(), p.handleError(nil)
}

// CheckFirmware compares the reported firmware with a semver constraint such as ">= 0.40".
func (p *PigeonIMU) CheckFirmware(constraint string) error {
	status, err := p.startup()
	if err != nil {
		return p.handleError(err)
	}
	return p.handleError(CheckFirmware(status.FirmVers, constraint))
}
