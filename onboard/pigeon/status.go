package pigeon

import (
	"fmt"
	"strconv"
	"strings"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
)

type PigeonState int

const (
	NoComm PigeonState = iota
	Initializing
	Ready
	UserCalibration
)

func (s PigeonState) String() string {
	switch s {
	case NoComm:
		return "NoComm"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case UserCalibration:
		return "UserCalibration"
	}
	return "Unknown"
}

func (s PigeonState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PigeonState) UnmarshalText(text []byte) error {
	state, err := ParsePigeonState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

func ParsePigeonState(name string) (PigeonState, error) {
	for _, s := range []PigeonState{NoComm, Initializing, Ready, UserCalibration} {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return NoComm, fmt.Errorf("unknown pigeon state %q", name)
}

// motion driver states reported by the firmware
const (
	mdInit0                 = 0
	mdAdditionalAccelAdjust = 13
	mdIdle                  = 14
	mdCalibration           = 15
	mdLedInstrum            = 16
	mdError                 = 31
)

// StateFromMotionDriver maps the firmware's motion driver state onto the lifecycle.
func StateFromMotionDriver(md int) PigeonState {
	switch {
	case md >= mdInit0 && md <= mdAdditionalAccelAdjust:
		return Initializing
	case md == mdIdle:
		return Ready
	case md == mdCalibration || md == mdLedInstrum:
		return UserCalibration
	default:
		// mdError and anything unknown
		return Initializing
	}
}

// GeneralStatusFields is the raw content of the general status frame.
type GeneralStatusFields struct {
	State                 PigeonState
	CurrentMode           CalibrationMode
	CalibrationError      int
	CalIsBooting          bool
	TempC                 float64
	UpTimeSec             int
	NoMotionBiasCount     int
	TempCompensationCount int
}

func DecodeGeneralStatus(payload uint64) (f GeneralStatusFields) {
	b := PayloadBytes(payload)

	f.TempC = FromFXP08(int32(int16(uint16(b[0])<<8 | uint16(b[1]))))
	f.CalibrationError = int(int8(b[2]))
	f.CalIsBooting = b[3]&0x80 != 0
	f.State = StateFromMotionDriver(int(b[3] & 0x1F))
	f.NoMotionBiasCount = int(b[4] >> 4)
	f.TempCompensationCount = int(b[4] & 0x0F)
	f.CurrentMode = CalibrationMode(b[5] & 0x1F)
	f.UpTimeSec = int(b[7])
	return
}

// EncodeGeneralStatus builds a general status frame. motionDriver is the raw firmware state.
func EncodeGeneralStatus(f GeneralStatusFields, motionDriver int) uint64 {
	var b [8]byte
	temp := uint16(int16(ToFXP08(f.TempC)))
	b[0] = byte(temp >> 8)
	b[1] = byte(temp)
	b[2] = byte(int8(f.CalibrationError))
	b[3] = byte(motionDriver & 0x1F)
	if f.CalIsBooting {
		b[3] |= 0x80
	}
	b[4] = byte(f.NoMotionBiasCount&0xF)<<4 | byte(f.TempCompensationCount&0xF)
	b[5] = byte(f.CurrentMode) & 0x1F
	b[7] = byte(f.UpTimeSec)
	return BytesPayload(b)
}

// StatusBranch is the rule of the general status decision table that produced a description.
type StatusBranch int

const (
	BranchNoComm StatusBranch = iota
	BranchBootCal
	BranchUserCal
	BranchReady
	BranchInitializing
	BranchUnknown
)

// ClassifyGeneralStatus applies the decision table. The first matching rule wins.
func ClassifyGeneralStatus(readErr error, f GeneralStatusFields) StatusBranch {
	switch {
	case readErr != nil:
		return BranchNoComm
	case f.CalIsBooting:
		return BranchBootCal
	case f.State == UserCalibration:
		return BranchUserCal
	case f.State == Ready:
		return BranchReady
	case f.State == Initializing:
		return BranchInitializing
	default:
		return BranchUnknown
	}
}

const (
	DESC_NO_COMM      = "Status frame was not received, check wired connections and web-based config."
	DESC_BOOT_CAL     = "Pigeon is boot-caling to properly bias accel and gyro.  Do not move Pigeon.  When finished biasing, calibration mode will start."
	DESC_READY        = "Pigeon is running normally.  Last CAL error code was "
	DESC_INITIALIZING = "Pigeon is boot-caling to properly bias accel and gyro.  Do not move Pigeon."
	DESC_UNKNOWN      = "Not enough data to determine status."
)

var calibrationDescriptions = map[CalibrationMode]string{
	BootTareGyroAccel: "Boot-Calibration: Gyro and Accelerometer are being biased.",
	Temperature:       "Temperature-Calibration: Pigeon is collecting temp data and will finish when temp range is reached.  Do not move Pigeon.",
	Magnetometer12Pt:  "Magnetometer Level 1 calibration: Orient the Pigeon PCB in the 12 positions documented in the User's Manual.",
	Magnetometer360:   "Magnetometer Level 2 calibration: Spin robot slowly in 360' fashion.",
	Accelerometer:     "Accelerometer Calibration: Pigeon PCB must be placed on a level source.  Follow User's Guide for how to level surface.",
}

func describe(branch StatusBranch, f GeneralStatusFields) string {
	switch branch {
	case BranchNoComm:
		return DESC_NO_COMM
	case BranchBootCal:
		return DESC_BOOT_CAL
	case BranchUserCal:
		if desc, ok := calibrationDescriptions[f.CurrentMode]; ok {
			return desc
		}
	case BranchReady:
		return DESC_READY + strconv.Itoa(f.CalibrationError) + "."
	case BranchInitializing:
		return DESC_INITIALIZING
	}
	return DESC_UNKNOWN
}

type GeneralStatus struct {
	GeneralStatusFields
	Description string
	LastError   deverr.ErrorCode
}

// InterpretGeneralStatus builds the status snapshot for a read of the general frame.
// A failed read reports NoComm whatever the fields hold.
func InterpretGeneralStatus(readErr error, f GeneralStatusFields) GeneralStatus {
	if readErr != nil {
		f.State = NoComm
	}

	return GeneralStatus{
		GeneralStatusFields: f,
		Description:         describe(ClassifyGeneralStatus(readErr, f), f),
		LastError:           deverr.Code(readErr),
	}
}

const (
	DESC_FUSION_NO_COMM = "Could not receive status frame.  Check wiring and web-config."
	DESC_FUSION_INVALID = "Fused Heading is not valid."
	DESC_FUSION_VALID   = "Fused Heading is valid."
	DESC_FUSION_FUSING  = "Fused Heading is valid and is fusing compass."
)

type FusionStatus struct {
	Heading     float64
	IsValid     bool
	IsFusing    bool
	Description string
	LastError   deverr.ErrorCode
}

func InterpretFusionStatus(readErr error, heading float64, valid, fusing bool) (s FusionStatus) {
	s.Heading = heading
	s.LastError = deverr.Code(readErr)

	switch {
	case readErr != nil:
		s.Description = DESC_FUSION_NO_COMM
	case !valid:
		s.Description = DESC_FUSION_INVALID
	case !fusing:
		s.IsValid = true
		s.Description = DESC_FUSION_VALID
	default:
		s.IsValid = true
		s.IsFusing = true
		s.Description = DESC_FUSION_FUSING
	}
	return
}

const (
	FUSION_FLAG_FUSING = 0x1
	FUSION_FLAG_VALID  = 0x2
)

func DecodeFusion(payload uint64) (heading float64, valid, fusing bool) {
	heading = float64(DecodeParams20(payload)[0]) * ANGLE_SCALAR
	flags := PayloadBytes(payload)[7]
	return heading, flags&FUSION_FLAG_VALID != 0, flags&FUSION_FLAG_FUSING != 0
}

func EncodeFusion(heading float64, valid, fusing bool) uint64 {
	var flags byte
	if valid {
		flags |= FUSION_FLAG_VALID
	}
	if fusing {
		flags |= FUSION_FLAG_FUSING
	}
	return EncodeParams20([3]int32{int32(heading / ANGLE_SCALAR), 0, 0}, flags)
}
