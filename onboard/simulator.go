package onboard

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
)

const (
	SIM_TICK             = 10 * time.Millisecond
	SIM_GENERAL_PERIOD   = 100 * time.Millisecond
	SIM_DEFAULT_PERIOD   = 20 * time.Millisecond
	SIM_FIRMWARE_VERSION = 0x0128
	SIM_FIELD_UT         = 50.0
	SIM_TEMP_C           = 25.0
	SIM_TEMP_NOISE       = 0.2

	mdIdle        = 14
	mdCalibration = 15
)

var simFrames = []pigeon.FrameKind{
	pigeon.COND_STATUS_1,
	pigeon.COND_STATUS_2,
	pigeon.COND_STATUS_3,
	pigeon.COND_STATUS_6,
	pigeon.COND_STATUS_9,
	pigeon.COND_STATUS_10,
	pigeon.COND_STATUS_11,
	pigeon.RAW_STATUS_4,
	pigeon.BIASED_STATUS_2,
	pigeon.BIASED_STATUS_4,
	pigeon.BIASED_STATUS_6,
}

// north in the world frame, dipping below the horizon
var simField = mgl64.Vec3{1, 0, -0.5}.Normalize().Mul(SIM_FIELD_UT)

// SimulatedPigeon is a virtual Pigeon IMU on a bus. It answers the parameter protocol
// and broadcasts status frames for its simulated orientation.
type SimulatedPigeon struct {
	bus   canbus.CANBusInterface
	ids   pigeon.ArbIDMap
	clock canbus.Clock
	log   logrus.FieldLogger

	lock sync.Mutex

	// true orientation in degrees and the yaw rate in degrees per second
	yaw, pitch, roll float64
	yawRate          float64

	yawOffset     float64
	fusedOffset   float64
	compassOffset float64
	accumZ        float64
	tempComp      bool

	motionDriver int
	calMode      pigeon.CalibrationMode
	calError     int
	bootTime     time.Time
	resetCount   int
	firmVers     int

	params  map[pigeon.ParamEnum]int32
	periods map[pigeon.FrameKind]time.Duration
	lastTx  map[pigeon.FrameKind]time.Time

	stop chan struct{}
}

func NewSimulatedPigeon(bus canbus.CANBusInterface, deviceNumber int, viaTalon bool, clock canbus.Clock) (s *SimulatedPigeon, err error) {
	ids, err := pigeon.NewArbIDMap(deviceNumber, viaTalon)
	if err != nil {
		return
	}
	if clock == nil {
		clock = canbus.SystemClock{}
	}

	s = &SimulatedPigeon{
		bus:          bus,
		ids:          ids,
		clock:        clock,
		log:          logrus.StandardLogger().WithFields(logrus.Fields{"sim": deviceNumber}),
		motionDriver: mdIdle,
		tempComp:     true,
		firmVers:     SIM_FIRMWARE_VERSION,
		params:       make(map[pigeon.ParamEnum]int32),
		periods:      make(map[pigeon.FrameKind]time.Duration),
		lastTx:       make(map[pigeon.FrameKind]time.Time),
	}
	for _, kind := range simFrames {
		s.periods[kind] = SIM_DEFAULT_PERIOD
	}
	s.periods[pigeon.COND_STATUS_1] = SIM_GENERAL_PERIOD

	bus.AddListener(s.handle)

	return s, s.Boot()
}

// Boot restarts the device: tares are cleared and a startup frame is sent.
func (s *SimulatedPigeon) Boot() error {
	s.lock.Lock()
	s.bootTime = s.clock.Now()
	s.resetCount++
	s.yawOffset, s.fusedOffset, s.accumZ = 0, 0, 0
	s.motionDriver = mdIdle
	startup := pigeon.StartupStatus{
		ResetCount: s.resetCount,
		ResetFlags: 0x0001, // power on
		FirmVers:   s.firmVers,
	}
	s.lock.Unlock()

	return s.send(pigeon.STARTUP_STATUS, startup.Encode(), 6)
}

func (s *SimulatedPigeon) SetOrientation(yaw, pitch, roll float64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.yaw, s.pitch, s.roll = yaw, pitch, roll
}

func (s *SimulatedPigeon) SetYawRate(dps float64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.yawRate = dps
}

// FinishCalibration ends a user calibration with errCode as the result.
func (s *SimulatedPigeon) FinishCalibration(errCode int) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.motionDriver = mdIdle
	s.calError = errCode
}

// Step advances the simulation by dt.
func (s *SimulatedPigeon) Step(dt time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delta := s.yawRate * dt.Seconds()
	s.yaw += delta
	s.accumZ += delta
}

func (s *SimulatedPigeon) orientation() mgl64.Quat {
	return mgl64.AnglesToQuat(
		mgl64.DegToRad(s.yaw),
		mgl64.DegToRad(s.pitch),
		mgl64.DegToRad(s.roll),
		mgl64.ZYX,
	)
}

func angle20(deg float64) int32 {
	return int32(deg / pigeon.ANGLE_SCALAR)
}

func word(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
}

// frames renders every status frame for the current state.
func (s *SimulatedPigeon) frames() map[pigeon.FrameKind]uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	q := s.orientation()
	body := q.Inverse()
	mag := body.Rotate(simField)
	gravity := body.Rotate(mgl64.Vec3{0, 0, 1})

	compass := s.yaw + s.compassOffset
	calibrating := s.motionDriver == mdCalibration

	uptime := int(s.clock.Now().Sub(s.bootTime).Seconds())
	if uptime > 255 {
		uptime = 255
	}

	general := pigeon.GeneralStatusFields{
		CurrentMode:      s.calMode,
		CalibrationError: s.calError,
		TempC:            SIM_TEMP_C + (rand.Float64()*2-1)*SIM_TEMP_NOISE,
		UpTimeSec:        uptime,
	}
	if s.tempComp {
		general.TempCompensationCount = s.resetCount & 0xF
	}

	tilt := func(v float64) int16 {
		return word(mgl64.RadToDeg(math.Asin(mgl64.Clamp(v, -1, 1))) / pigeon.TILT_SCALAR)
	}

	return map[pigeon.FrameKind]uint64{
		pigeon.COND_STATUS_1: pigeon.EncodeGeneralStatus(general, s.motionDriver),
		pigeon.COND_STATUS_2: pigeon.EncodeParams20([3]int32{
			angle20(compass),
			int32(mag.Len() / pigeon.FIELD_SCALAR),
			0,
		}, 0),
		pigeon.COND_STATUS_3: pigeon.EncodeParams16([4]int16{
			tilt(gravity.X()), tilt(gravity.Y()), tilt(gravity.Z()), 0,
		}),
		pigeon.COND_STATUS_6: pigeon.EncodeFusion(s.yaw+s.fusedOffset, !calibrating, !calibrating && s.compassOffset != 0),
		pigeon.COND_STATUS_9: pigeon.EncodeParams20([3]int32{
			angle20(s.yaw + s.yawOffset), angle20(s.pitch), angle20(s.roll),
		}, 0),
		pigeon.COND_STATUS_10: pigeon.EncodeParams16([4]int16{
			word(q.W / pigeon.QUAT_SCALAR),
			word(q.V.X() / pigeon.QUAT_SCALAR),
			word(q.V.Y() / pigeon.QUAT_SCALAR),
			word(q.V.Z() / pigeon.QUAT_SCALAR),
		}),
		pigeon.COND_STATUS_11: pigeon.EncodeParams20([3]int32{0, 0, angle20(s.accumZ)}, 0),
		pigeon.RAW_STATUS_4: pigeon.EncodeParams16([4]int16{
			word(mag.X() * 100), word(mag.Y() * 100), word(mag.Z() * 100), 0,
		}),
		pigeon.BIASED_STATUS_2: pigeon.EncodeParams16([4]int16{
			0, 0, word(s.yawRate / pigeon.GYRO_SCALAR), 0,
		}),
		pigeon.BIASED_STATUS_4: pigeon.EncodeParams16([4]int16{
			word(mag.X() * 100), word(mag.Y() * 100), word(mag.Z() * 100), 0,
		}),
		pigeon.BIASED_STATUS_6: pigeon.EncodeParams16([4]int16{
			word(gravity.X() * 16384), word(gravity.Y() * 16384), word(gravity.Z() * 16384), 0,
		}),
	}
}

// Broadcast sends every status frame once.
func (s *SimulatedPigeon) Broadcast() error {
	for kind, payload := range s.frames() {
		if err := s.send(kind, payload, 8); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulatedPigeon) due(now time.Time) []pigeon.FrameKind {
	s.lock.Lock()
	defer s.lock.Unlock()

	var kinds []pigeon.FrameKind
	for _, kind := range simFrames {
		if now.Sub(s.lastTx[kind]) >= s.periods[kind] {
			s.lastTx[kind] = now
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Start runs the simulation and broadcasts each frame at its own period until Stop.
func (s *SimulatedPigeon) Start() {
	s.lock.Lock()
	if s.stop != nil {
		s.lock.Unlock()
		return
	}
	s.stop = make(chan struct{})
	stop := s.stop
	s.lock.Unlock()

	go func() {
		ticker := time.NewTicker(SIM_TICK)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			s.Step(SIM_TICK)

			now := s.clock.Now()
			frames := s.frames()
			for _, kind := range s.due(now) {
				if err := s.send(kind, frames[kind], 8); err != nil {
					s.log.WithError(err).Warn("simulated frame was not sent")
				}
			}
		}
	}()
}

func (s *SimulatedPigeon) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *SimulatedPigeon) send(kind pigeon.FrameKind, payload uint64, length int) error {
	return s.bus.SendMsg(canbus.NewMsg(s.ids.ID(kind), payload, length))
}

func (s *SimulatedPigeon) handle(msg canbus.CANMsg) {
	kind, ok := s.ids.Kind(msg.ID)
	if !ok {
		return
	}

	var resp pigeon.ParamFrame
	switch kind {
	case pigeon.PARAM_SET:
		resp = s.apply(pigeon.DecodeParamFrame(msg.Payload()))
	case pigeon.PARAM_REQUEST:
		resp = s.read(pigeon.DecodeParamFrame(msg.Payload()))
	default:
		return
	}

	if err := s.send(pigeon.PARAM_RESPONSE, resp.Encode(), pigeon.PARAM_FRAME_LENGTH); err != nil {
		s.log.WithError(err).Warn("parameter response was not sent")
	}
}

func (s *SimulatedPigeon) tare(current float64, req pigeon.ParamFrame, reference float64) float64 {
	value := pigeon.DecodeParamValue(req.Param, req.Value)
	switch pigeon.TareType(req.SubValue) {
	case pigeon.SetValue:
		return value - reference
	case pigeon.AddOffset:
		return current + value
	case pigeon.MatchCompass:
		return s.yaw + s.compassOffset - reference
	case pigeon.SetOffset:
		return value
	}
	return current
}

// apply executes a PARAM_SET and returns the echo.
func (s *SimulatedPigeon) apply(req pigeon.ParamFrame) pigeon.ParamFrame {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch req.Param {
	case pigeon.YawOffset:
		s.yawOffset = s.tare(s.yawOffset, req, s.yaw)
	case pigeon.FusedHeadingOffset:
		s.fusedOffset = s.tare(s.fusedOffset, req, s.yaw)
	case pigeon.CompassOffset:
		s.compassOffset = s.tare(s.compassOffset, req, s.yaw)
	case pigeon.AccumZ:
		s.accumZ = pigeon.DecodeParamValue(req.Param, req.Value)
	case pigeon.TempCompDisable:
		s.tempComp = req.Value == 0
	case pigeon.EnterCalibration:
		s.calMode = pigeon.CalibrationMode(req.Value)
		s.motionDriver = mdCalibration
		s.log.WithField("mode", s.calMode).Info("simulated calibration started")
	case pigeon.StatusFrameRate:
		if kind, ok := pigeon.StatusFrame(req.SubValue).Frame(); ok {
			if req.Value > 0 {
				s.periods[kind] = time.Duration(req.Value) * time.Millisecond
			} else {
				s.periods[kind] = SIM_DEFAULT_PERIOD
			}
		}
	}

	s.params[req.Param] = req.Value
	return req
}

// read answers a PARAM_REQUEST with the last value set.
func (s *SimulatedPigeon) read(req pigeon.ParamFrame) pigeon.ParamFrame {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch req.Param {
	case pigeon.YawOffset:
		req.Value = pigeon.EncodeParamValue(req.Param, s.yawOffset)
	case pigeon.FusedHeadingOffset:
		req.Value = pigeon.EncodeParamValue(req.Param, s.fusedOffset)
	case pigeon.CompassOffset:
		req.Value = pigeon.EncodeParamValue(req.Param, s.compassOffset)
	case pigeon.StatusFramePeriod:
		if kind, ok := pigeon.StatusFrame(req.Value).Frame(); ok {
			req.Value = int32(s.periods[kind] / time.Millisecond)
		} else {
			req.Value = 0
		}
	default:
		req.Value = s.params[req.Param]
	}
	return req
}
