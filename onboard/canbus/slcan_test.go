package canbus

import (
	"bytes"
	. "github.com/smartystreets/goconvey/convey"
	"io"
	"sync"
	"testing"
	"time"
)

type fakePort struct {
	lock    sync.Mutex
	written bytes.Buffer
	rx      chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		rx:     make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case data := <-p.rx:
		return copy(buf, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.written.Write(buf)
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) output() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.written.String()
}

func TestEncodeSLCAN(t *testing.T) {
	Convey("extended frames use T and eight id digits", t, func() {
		line, err := encodeSLCAN(NewMsg(0x15042C45, 0x0102, 2))
		So(err, ShouldBeNil)
		So(line, ShouldEqual, "T15042C4520201\r")
	})

	Convey("standard frames use t and three id digits", t, func() {
		line, err := encodeSLCAN(CANMsg{ID: 0x123, Data: []byte{0xDE, 0xAD}})
		So(err, ShouldBeNil)
		So(line, ShouldEqual, "t1232DEAD\r")
	})

	Convey("empty frames have no data digits", t, func() {
		line, _ := encodeSLCAN(CANMsg{ID: 0x7ff})
		So(line, ShouldEqual, "t7FF0\r")
	})
}

func TestParseSLCAN(t *testing.T) {
	Convey("extended frames decode", t, func() {
		msg, err := parseSLCAN("T15042000300A0B0C")
		So(err, ShouldBeNil)
		So(msg.ID, ShouldEqual, 0x15042000)
		So(msg.Extended, ShouldBeTrue)
		So(msg.Data, ShouldResemble, []byte{0x00, 0xA0, 0xB0})
	})

	Convey("encoding and parsing agree", t, func() {
		in := NewMsg(0x15042245, 0x8877665544332211, 8)
		line, _ := encodeSLCAN(in)
		out, err := parseSLCAN(line[:len(line)-1])
		So(err, ShouldBeNil)
		So(out.Payload(), ShouldEqual, in.Payload())
	})

	Convey("malformed frames are rejected", t, func() {
		for _, line := range []string{"x123", "t12", "t123", "t1239", "t1232DE", "t1232ZZZZ", "TGGGGGGGG0"} {
			_, err := parseSLCAN(line)
			So(err, ShouldEqual, ERR_SLCAN_FRAME)
		}
	})
}

func TestSLCANBus(t *testing.T) {
	Convey("opening configures the adapter bitrate", t, func() {
		port := newFakePort()
		bus, err := newSLCANBus(port, 500000)
		So(err, ShouldBeNil)
		defer bus.Close()

		So(port.output(), ShouldEqual, "C\rS6\rO\r")

		Convey("sent frames are written as slcan lines", func() {
			So(bus.SendMsg(NewMsg(0x123, 0xAA, 1)), ShouldBeNil)
			So(port.output(), ShouldEndWith, "t1231AA\r")
		})

		Convey("received lines are dispatched to listeners", func() {
			rx := make(chan CANMsg, 1)
			bus.AddListener(func(msg CANMsg) { rx <- msg })

			port.rx <- []byte("z\rT150420")
			port.rx <- []byte("0020102\r")

			select {
			case msg := <-rx:
				So(msg.ID, ShouldEqual, 0x15042000)
				So(msg.Data, ShouldResemble, []byte{0x01, 0x02})
			case <-time.After(time.Second):
				So("no frame dispatched", ShouldBeEmpty)
			}
		})

		Convey("a closed bus refuses to send", func() {
			bus.Close()
			So(bus.SendMsg(NewMsg(0x123, 0, 0)), ShouldEqual, ERR_BUS_CLOSED)
		})
	})

	Convey("unsupported bitrates are rejected", t, func() {
		_, err := newSLCANBus(newFakePort(), 333333)
		So(err, ShouldEqual, ERR_SLCAN_BITRATE)
	})
}
