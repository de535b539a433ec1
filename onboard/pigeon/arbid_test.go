package pigeon

import (
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestArbIDMap(t *testing.T) {
	Convey("device IDs combine the number with the base", t, func() {
		m, err := NewArbIDMap(5, false)
		So(err, ShouldBeNil)
		So(m.DeviceID(), ShouldEqual, uint32(0x15000005))
		So(m.DeviceNumber(), ShouldEqual, 5)
		So(m.ID(PARAM_SET), ShouldEqual, uint32(0x15042C85))
		So(m.ID(COND_STATUS_1), ShouldEqual, uint32(0x15042005))

		Convey("talon attached devices use the talon base", func() {
			talon, err := NewArbIDMap(5, true)
			So(err, ShouldBeNil)
			So(talon.ID(COND_STATUS_1), ShouldEqual, uint32(0x02042005))
		})
	})

	Convey("device numbers outside [0, 62] are rejected", t, func() {
		_, err := NewArbIDMap(-1, false)
		So(err, ShouldEqual, deverr.InvalidParamValue)
		_, err = NewArbIDMap(63, false)
		So(err, ShouldEqual, deverr.InvalidParamValue)
	})

	Convey("addresses are unique over every device and category", t, func() {
		seen := make(map[uint32]string)
		for n := 0; n <= MAX_DEVICE_NUMBER; n++ {
			m, err := NewArbIDMap(n, false)
			So(err, ShouldBeNil)

			for _, kind := range FrameKinds {
				id := m.ID(kind)
				_, dup := seen[id]
				So(dup, ShouldBeFalse)
				So(id, ShouldBeLessThanOrEqualTo, uint32(ARB_ID_MASK))
				seen[id] = kind.String()
			}
		}
		So(len(seen), ShouldEqual, (MAX_DEVICE_NUMBER+1)*len(FrameKinds))
	})

	Convey("kinds can be recovered from addresses", t, func() {
		m, _ := NewArbIDMap(12, false)
		for _, kind := range FrameKinds {
			got, ok := m.Kind(m.ID(kind))
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, kind)
		}

		other, _ := NewArbIDMap(13, false)
		_, ok := m.Kind(other.ID(COND_STATUS_1))
		So(ok, ShouldBeFalse)
	})

	Convey("every category has a name", t, func() {
		for _, kind := range FrameKinds {
			So(kind.String(), ShouldNotStartWith, "FrameKind(")
		}
		So(FrameKind(0x123).String(), ShouldEqual, "FrameKind(0x00123)")
	})
}
