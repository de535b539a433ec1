package canbus

import (
	"errors"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestLoopbackBus(t *testing.T) {
	Convey("frames are delivered to every listener before SendMsg returns", t, func() {
		bus := NewLoopbackBus()

		var a, b []CANMsg
		bus.AddListener(func(msg CANMsg) { a = append(a, msg) })
		bus.AddListener(func(msg CANMsg) { b = append(b, msg) })

		err := bus.SendMsg(NewMsg(0x15042000, 0x0102, 2))
		So(err, ShouldBeNil)
		So(len(a), ShouldEqual, 1)
		So(len(b), ShouldEqual, 1)
		So(a[0].ID, ShouldEqual, 0x15042000)

		Convey("listeners receive a copy of the data", func() {
			msg := NewMsg(0x100, 0xAA, 1)
			bus.SendMsg(msg)
			msg.Data[0] = 0x55
			So(a[1].Data[0], ShouldEqual, 0xAA)
		})

		Convey("tx hook errors abort delivery", func() {
			bus.SetTxHook(func(msg CANMsg) error { return errors.New("simulated tx error") })
			So(bus.SendMsg(NewMsg(0x100, 0, 0)), ShouldBeError)
			So(len(a), ShouldEqual, 1)
		})

		Convey("a closed bus refuses to send", func() {
			bus.Close()
			So(bus.SendMsg(NewMsg(0x100, 0, 0)), ShouldEqual, ERR_BUS_CLOSED)
		})

		Convey("oversized data is rejected", func() {
			So(bus.SendMsg(CANMsg{ID: 1, Data: make([]byte, 9)}), ShouldEqual, ERR_DATA_TOO_LONG)
		})
	})

	Convey("listeners may send from inside a delivery", t, func() {
		bus := NewLoopbackBus()
		var replies int
		bus.AddListener(func(msg CANMsg) {
			if msg.ID == 0x200 {
				bus.SendMsg(NewMsg(0x201, 0, 0))
			}
			if msg.ID == 0x201 {
				replies++
			}
		})

		bus.SendMsg(NewMsg(0x200, 0, 0))
		So(replies, ShouldEqual, 1)
	})
}
