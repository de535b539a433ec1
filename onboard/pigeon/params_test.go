package pigeon

import (
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestParamFrame(t *testing.T) {
	Convey("param frames follow the documented layout", t, func() {
		frame := ParamFrame{Param: EnterCalibration, Ordinal: 3, Value: -2, SubValue: 0xFF}
		b := PayloadBytes(frame.Encode())

		So(b[0], ShouldEqual, 0x0A)
		So(b[1], ShouldEqual, 0x53)
		So(b[2:6], ShouldResemble, []byte{0xFF, 0xFF, 0xFF, 0xFE})
		So(b[6], ShouldEqual, 0xFF)
		So(b[7], ShouldEqual, 0)

		So(DecodeParamFrame(frame.Encode()), ShouldResemble, frame)
	})

	Convey("the widest param and ordinal survive", t, func() {
		frame := ParamFrame{Param: MAX_PARAM_ENUM, Ordinal: MAX_ORDINAL, Value: 0x7FFFFFFF}
		So(frame.Validate(), ShouldBeNil)
		So(DecodeParamFrame(frame.Encode()), ShouldResemble, frame)
	})

	Convey("out of range params and ordinals are invalid", t, func() {
		So(ParamFrame{Param: -1}.Validate(), ShouldEqual, deverr.InvalidParamValue)
		So(ParamFrame{Param: 0x1000}.Validate(), ShouldEqual, deverr.InvalidParamValue)
		So(ParamFrame{Param: YawOffset, Ordinal: 16}.Validate(), ShouldEqual, deverr.InvalidParamValue)
		So(ParamFrame{Param: YawOffset, Ordinal: -1}.Validate(), ShouldEqual, deverr.InvalidParamValue)
	})
}

func TestParamEncoding(t *testing.T) {
	Convey("angle params are carried as 0.8 fixed point", t, func() {
		So(EncodeParamValue(YawOffset, 90), ShouldEqual, int32(90*256))
		So(DecodeParamValue(FusedHeadingOffset, -256), ShouldEqual, -1.0)
	})

	Convey("beta gain is carried as 10.22 fixed point", t, func() {
		So(EncodeParamValue(BetaGain, 0.5), ShouldEqual, int32(1<<21))
		So(DecodeParamValue(BetaGain, 1<<22), ShouldEqual, 1.0)
	})

	Convey("other params are rounded integers", t, func() {
		So(EncodeParamValue(StatusFramePeriod, 9.6), ShouldEqual, int32(10))
		So(DecodeParamValue(StickyFaults, 7), ShouldEqual, 7.0)
		So(EncodeParamValue(ParamEnum(999), 3.2), ShouldEqual, int32(3))
	})
}

func TestParseNames(t *testing.T) {
	Convey("params parse by name or number", t, func() {
		p, err := ParseParamEnum("yawoffset")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, YawOffset)

		p, err = ParseParamEnum("390")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, StickyFaults)

		_, err = ParseParamEnum("nope")
		So(err, ShouldEqual, deverr.InvalidParamValue)
		_, err = ParseParamEnum("5000")
		So(err, ShouldEqual, deverr.InvalidParamValue)

		So(ParamEnum(4000).String(), ShouldEqual, "ParamEnum(4000)")
	})

	Convey("calibration modes parse and print", t, func() {
		cm, err := ParseCalibrationMode("Magnetometer360")
		So(err, ShouldBeNil)
		So(cm, ShouldEqual, Magnetometer360)
		So(cm.String(), ShouldEqual, "Magnetometer360")
		So(CalibrationMode(4).String(), ShouldEqual, "Unknown")

		_, err = ParseCalibrationMode("gyro")
		So(err, ShouldEqual, deverr.InvalidParamValue)
	})

	Convey("every named status frame maps to a frame category", t, func() {
		for _, sf := range StatusFrameNames {
			_, ok := sf.Frame()
			So(ok, ShouldBeTrue)
		}
		_, ok := StatusFrame(7).Frame()
		So(ok, ShouldBeFalse)
	})
}
