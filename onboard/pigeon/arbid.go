package pigeon

import (
	"fmt"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
)

const (
	PIGEON_DEVICE_BASE = 0x15000000
	TALON_DEVICE_BASE  = 0x02000000 // pigeon on a Talon SRX ribbon cable
	MAX_DEVICE_NUMBER  = 62
	ARB_ID_MASK        = 0x1FFFFFFF
)

// FrameKind is the per-category base offset of a frame address.
type FrameKind uint32

const (
	RAW_STATUS_2 FrameKind = 0x00040C40
	RAW_STATUS_4 FrameKind = 0x00040CC0
	RAW_STATUS_6 FrameKind = 0x00040D40

	BIASED_STATUS_2 FrameKind = 0x00041C40
	BIASED_STATUS_4 FrameKind = 0x00041CC0
	BIASED_STATUS_6 FrameKind = 0x00041D40

	COND_STATUS_1  FrameKind = 0x00042000
	COND_STATUS_2  FrameKind = 0x00042040
	COND_STATUS_3  FrameKind = 0x00042080
	COND_STATUS_4  FrameKind = 0x000420C0
	COND_STATUS_5  FrameKind = 0x00042100
	COND_STATUS_6  FrameKind = 0x00042140
	COND_STATUS_7  FrameKind = 0x00042180
	COND_STATUS_8  FrameKind = 0x000421C0
	COND_STATUS_9  FrameKind = 0x00042200
	COND_STATUS_10 FrameKind = 0x00042240
	COND_STATUS_11 FrameKind = 0x00042280

	STARTUP_STATUS FrameKind = 0x00041F00

	CONTROL_1 FrameKind = 0x00042800

	PARAM_REQUEST  FrameKind = 0x00042C00
	PARAM_RESPONSE FrameKind = 0x00042C40
	PARAM_SET      FrameKind = 0x00042C80
)

// FrameKinds lists every category in address order.
var FrameKinds = []FrameKind{
	RAW_STATUS_2, RAW_STATUS_4, RAW_STATUS_6,
	BIASED_STATUS_2, BIASED_STATUS_4, BIASED_STATUS_6,
	STARTUP_STATUS,
	COND_STATUS_1, COND_STATUS_2, COND_STATUS_3, COND_STATUS_4, COND_STATUS_5, COND_STATUS_6,
	COND_STATUS_7, COND_STATUS_8, COND_STATUS_9, COND_STATUS_10, COND_STATUS_11,
	CONTROL_1,
	PARAM_REQUEST, PARAM_RESPONSE, PARAM_SET,
}

var frameKindNames = map[FrameKind]string{
	RAW_STATUS_2:    "RAW_STATUS_2",
	RAW_STATUS_4:    "RAW_STATUS_4",
	RAW_STATUS_6:    "RAW_STATUS_6",
	BIASED_STATUS_2: "BIASED_STATUS_2",
	BIASED_STATUS_4: "BIASED_STATUS_4",
	BIASED_STATUS_6: "BIASED_STATUS_6",
	STARTUP_STATUS:  "STARTUP_STATUS",
	COND_STATUS_1:   "COND_STATUS_1",
	COND_STATUS_2:   "COND_STATUS_2",
	COND_STATUS_3:   "COND_STATUS_3",
	COND_STATUS_4:   "COND_STATUS_4",
	COND_STATUS_5:   "COND_STATUS_5",
	COND_STATUS_6:   "COND_STATUS_6",
	COND_STATUS_7:   "COND_STATUS_7",
	COND_STATUS_8:   "COND_STATUS_8",
	COND_STATUS_9:   "COND_STATUS_9",
	COND_STATUS_10:  "COND_STATUS_10",
	COND_STATUS_11:  "COND_STATUS_11",
	CONTROL_1:       "CONTROL_1",
	PARAM_REQUEST:   "PARAM_REQUEST",
	PARAM_RESPONSE:  "PARAM_RESPONSE",
	PARAM_SET:       "PARAM_SET",
}

func (k FrameKind) String() string {
	if name, ok := frameKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FrameKind(0x%05X)", uint32(k))
}

// ArbIDMap computes the frame addresses of a single device.
type ArbIDMap struct {
	deviceNumber int
	deviceID     uint32
}

func NewArbIDMap(deviceNumber int, viaTalon bool) (m ArbIDMap, err error) {
	if deviceNumber < 0 || deviceNumber > MAX_DEVICE_NUMBER {
		return m, deverr.InvalidParamValue
	}

	base := uint32(PIGEON_DEVICE_BASE)
	if viaTalon {
		base = TALON_DEVICE_BASE
	}

	return ArbIDMap{
		deviceNumber: deviceNumber,
		deviceID:     uint32(deviceNumber) | base,
	}, nil
}

func (m ArbIDMap) DeviceNumber() int {
	return m.deviceNumber
}

func (m ArbIDMap) DeviceID() uint32 {
	return m.deviceID
}

func (m ArbIDMap) ID(kind FrameKind) uint32 {
	return (uint32(kind) | m.deviceID) & ARB_ID_MASK
}

// Kind is the inverse of ID. ok is false when arbID belongs to another device.
func (m ArbIDMap) Kind(arbID uint32) (kind FrameKind, ok bool) {
	for _, k := range FrameKinds {
		if m.ID(k) == arbID {
			return k, true
		}
	}
	return 0, false
}
