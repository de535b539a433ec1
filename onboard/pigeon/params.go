package pigeon

import (
	"fmt"
	"math"
	"strings"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
)

const (
	PARAM_FRAME_LENGTH = 7
	MAX_PARAM_ENUM     = 0xFFF
	MAX_ORDINAL        = 0xF
)

type ParamEnum int

const (
	YawOffset          ParamEnum = 160
	CompassOffset      ParamEnum = 161
	BetaGain           ParamEnum = 162
	Reserved163        ParamEnum = 163
	GyroNoMotionCal    ParamEnum = 164
	EnterCalibration   ParamEnum = 165
	FusedHeadingOffset ParamEnum = 166
	StatusFrameRate    ParamEnum = 169
	AccumZ             ParamEnum = 170
	TempCompDisable    ParamEnum = 171

	// shared with every device on the bus
	StatusFramePeriod ParamEnum = 300
	CustomParam       ParamEnum = 380
	StickyFaults      ParamEnum = 390
)

// ParamEncoding is how a float parameter value is carried in the 32 bit value field.
type ParamEncoding int

const (
	Integral ParamEncoding = iota
	FXP1022
	FXP08
)

type paramInfo struct {
	name     string
	encoding ParamEncoding
}

var paramTable = map[ParamEnum]paramInfo{
	YawOffset:          {"YawOffset", FXP08},
	CompassOffset:      {"CompassOffset", FXP08},
	BetaGain:           {"BetaGain", FXP1022},
	Reserved163:        {"Reserved163", Integral},
	GyroNoMotionCal:    {"GyroNoMotionCal", Integral},
	EnterCalibration:   {"EnterCalibration", Integral},
	FusedHeadingOffset: {"FusedHeadingOffset", FXP08},
	StatusFrameRate:    {"StatusFrameRate", Integral},
	AccumZ:             {"AccumZ", FXP08},
	TempCompDisable:    {"TempCompDisable", Integral},
	StatusFramePeriod:  {"StatusFramePeriod", Integral},
	CustomParam:        {"CustomParam", Integral},
	StickyFaults:       {"StickyFaults", Integral},
}

func (p ParamEnum) String() string {
	if info, ok := paramTable[p]; ok {
		return info.name
	}
	return fmt.Sprintf("ParamEnum(%d)", int(p))
}

func (p ParamEnum) Encoding() ParamEncoding {
	return paramTable[p].encoding
}

// ParseParamEnum accepts a parameter name (case insensitive) or its number.
func ParseParamEnum(s string) (ParamEnum, error) {
	for p, info := range paramTable {
		if strings.EqualFold(info.name, s) {
			return p, nil
		}
	}

	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n >= 0 && n <= MAX_PARAM_ENUM {
		return ParamEnum(n), nil
	}
	return 0, deverr.InvalidParamValue
}

func EncodeParamValue(p ParamEnum, value float64) int32 {
	switch p.Encoding() {
	case FXP1022:
		return ToFXP1022(value)
	case FXP08:
		return ToFXP08(value)
	default:
		return int32(math.Round(value))
	}
}

func DecodeParamValue(p ParamEnum, raw int32) float64 {
	switch p.Encoding() {
	case FXP1022:
		return FromFXP1022(raw)
	case FXP08:
		return FromFXP08(raw)
	default:
		return float64(raw)
	}
}

// TareType is the sub command carried with the tare style params.
type TareType uint8

const (
	SetValue     TareType = 0x00
	AddOffset    TareType = 0x01
	MatchCompass TareType = 0x02
	SetOffset    TareType = 0xFF
)

type CalibrationMode int

const (
	BootTareGyroAccel CalibrationMode = 0
	Temperature       CalibrationMode = 1
	Magnetometer12Pt  CalibrationMode = 2
	Magnetometer360   CalibrationMode = 3
	Accelerometer     CalibrationMode = 5
)

var calibrationModeNames = map[CalibrationMode]string{
	BootTareGyroAccel: "BootTareGyroAccel",
	Temperature:       "Temperature",
	Magnetometer12Pt:  "Magnetometer12Pt",
	Magnetometer360:   "Magnetometer360",
	Accelerometer:     "Accelerometer",
}

func (cm CalibrationMode) String() string {
	if name, ok := calibrationModeNames[cm]; ok {
		return name
	}
	return "Unknown"
}

func ParseCalibrationMode(s string) (CalibrationMode, error) {
	for cm, name := range calibrationModeNames {
		if strings.EqualFold(name, s) {
			return cm, nil
		}
	}
	return 0, deverr.InvalidParamValue
}

// StatusFrame selects a periodic status frame for SetStatusFrameRateMs.
type StatusFrame int

const (
	CondStatus1General        StatusFrame = 2
	CondStatus9SixDegYPR      StatusFrame = 3
	CondStatus6SensorFusion   StatusFrame = 4
	CondStatus11GyroAccum     StatusFrame = 5
	RawStatus4Mag             StatusFrame = 6
	BiasedStatus2Gyro         StatusFrame = 8
	BiasedStatus4Mag          StatusFrame = 9
	BiasedStatus6Accel        StatusFrame = 10
	CondStatus2GeneralCompass StatusFrame = 11
	CondStatus3GeneralAccel   StatusFrame = 12
	CondStatus10SixDegQuat    StatusFrame = 14
)

// StatusFrameNames are the keys accepted in configuration frame_rates.
var StatusFrameNames = map[string]StatusFrame{
	"general":      CondStatus1General,
	"ypr":          CondStatus9SixDegYPR,
	"fusion":       CondStatus6SensorFusion,
	"gyro_accum":   CondStatus11GyroAccum,
	"raw_mag":      RawStatus4Mag,
	"biased_gyro":  BiasedStatus2Gyro,
	"biased_mag":   BiasedStatus4Mag,
	"biased_accel": BiasedStatus6Accel,
	"compass":      CondStatus2GeneralCompass,
	"accel":        CondStatus3GeneralAccel,
	"quaternion":   CondStatus10SixDegQuat,
}

// Frame returns the frame category whose rate s controls.
func (s StatusFrame) Frame() (kind FrameKind, ok bool) {
	switch s {
	case CondStatus1General:
		return COND_STATUS_1, true
	case CondStatus9SixDegYPR:
		return COND_STATUS_9, true
	case CondStatus6SensorFusion:
		return COND_STATUS_6, true
	case CondStatus11GyroAccum:
		return COND_STATUS_11, true
	case RawStatus4Mag:
		return RAW_STATUS_4, true
	case BiasedStatus2Gyro:
		return BIASED_STATUS_2, true
	case BiasedStatus4Mag:
		return BIASED_STATUS_4, true
	case BiasedStatus6Accel:
		return BIASED_STATUS_6, true
	case CondStatus2GeneralCompass:
		return COND_STATUS_2, true
	case CondStatus3GeneralAccel:
		return COND_STATUS_3, true
	case CondStatus10SixDegQuat:
		return COND_STATUS_10, true
	}
	return 0, false
}

// ParamFrame is the payload shared by PARAM_REQUEST, PARAM_RESPONSE and PARAM_SET.
type ParamFrame struct {
	Param    ParamEnum
	Ordinal  int
	Value    int32
	SubValue uint8
}

func (f ParamFrame) Validate() error {
	if f.Param < 0 || f.Param > MAX_PARAM_ENUM {
		return deverr.InvalidParamValue
	}
	if f.Ordinal < 0 || f.Ordinal > MAX_ORDINAL {
		return deverr.InvalidParamValue
	}
	return nil
}

func (f ParamFrame) Encode() uint64 {
	var b [8]byte
	b[0] = byte(f.Param >> 4)
	b[1] = byte(f.Param&0xF)<<4 | byte(f.Ordinal&0xF)
	b[2] = byte(uint32(f.Value) >> 24)
	b[3] = byte(uint32(f.Value) >> 16)
	b[4] = byte(uint32(f.Value) >> 8)
	b[5] = byte(uint32(f.Value))
	b[6] = f.SubValue
	return BytesPayload(b)
}

func DecodeParamFrame(payload uint64) (f ParamFrame) {
	b := PayloadBytes(payload)
	f.Param = ParamEnum(int(b[0])<<4 | int(b[1]>>4))
	f.Ordinal = int(b[1] & 0xF)
	f.Value = int32(uint32(b[2])<<24 | uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5]))
	f.SubValue = b[6]
	return
}
