package comms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

type mockPigeon struct {
	lock    sync.Mutex
	offline bool
	yaw     float64
	mode    pigeon.CalibrationMode
	calls   []string
}

func (p *mockPigeon) record(call string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.calls = append(p.calls, call)
}

func (p *mockPigeon) lastCall() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.calls) == 0 {
		return ""
	}
	return p.calls[len(p.calls)-1]
}

func (p *mockPigeon) Peek() (r pigeon.Reading, err error) {
	if p.offline {
		r.Status = pigeon.InterpretGeneralStatus(deverr.RxTimeout, pigeon.GeneralStatusFields{})
		return r, deverr.RxTimeout
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	r.Status = pigeon.InterpretGeneralStatus(nil, pigeon.GeneralStatusFields{State: pigeon.Ready})
	r.YPR = [3]float64{p.yaw, 1, 2}
	r.Fused = pigeon.FusionStatus{Heading: p.yaw, IsFusing: true, IsValid: true}
	return r, nil
}

func (p *mockPigeon) SetYaw(angleDeg float64, timeoutMs int) error {
	p.record("set_yaw")
	p.lock.Lock()
	defer p.lock.Unlock()
	p.yaw = angleDeg
	return nil
}

func (p *mockPigeon) AddYaw(angleDeg float64, timeoutMs int) error {
	p.record("add_yaw")
	p.lock.Lock()
	defer p.lock.Unlock()
	p.yaw += angleDeg
	return nil
}

func (p *mockPigeon) SetFusedHeading(angleDeg float64, timeoutMs int) error {
	p.record("set_fused_heading")
	return deverr.SigNotUpdated
}

func (p *mockPigeon) EnterCalibrationMode(mode pigeon.CalibrationMode, timeoutMs int) error {
	p.record("enter_calibration")
	p.lock.Lock()
	defer p.lock.Unlock()
	p.mode = mode
	return nil
}

type testSnapshot struct {
	Type    string `json:"type"`
	Pigeons []struct {
		Name         string     `json:"name"`
		State        string     `json:"state"`
		YPR          [3]float64 `json:"ypr"`
		FusedHeading float64    `json:"fused_heading"`
		Error        string     `json:"error"`
	} `json:"pigeons"`
}

func TestConductorCommands(t *testing.T) {
	Convey("Given a conductor with one pigeon", t, func() {
		chassis := &mockPigeon{}
		c := NewConductor(map[string]Pigeon{"chassis": chassis}, 30)

		Convey("yaw commands reach the pigeon", func() {
			So(c.ProcessCommand(Cmd{Cmd: "set_yaw", Name: "chassis", Value: 90}), ShouldBeNil)
			So(c.ProcessCommand(Cmd{Cmd: "add_yaw", Name: "chassis", Value: -5}), ShouldBeNil)
			reading, _ := chassis.Peek()
			So(reading.YPR[0], ShouldEqual, 85)
		})

		Convey("calibration modes are parsed", func() {
			So(c.ProcessCommand(Cmd{Cmd: "enter_calibration", Name: "chassis", Mode: "magnetometer360"}), ShouldBeNil)
			So(chassis.mode, ShouldEqual, pigeon.Magnetometer360)

			So(c.ProcessCommand(Cmd{Cmd: "enter_calibration", Name: "chassis", Mode: "sideways"}), ShouldEqual, deverr.InvalidParamValue)
		})

		Convey("driver errors are returned", func() {
			So(c.ProcessCommand(Cmd{Cmd: "set_fused_heading", Name: "chassis"}), ShouldEqual, deverr.SigNotUpdated)
		})

		Convey("unknown pigeons and commands are rejected", func() {
			So(c.ProcessCommand(Cmd{Cmd: "set_yaw", Name: "tail"}), ShouldNotBeNil)
			So(c.ProcessCommand(Cmd{Cmd: "fly", Name: "chassis"}), ShouldNotBeNil)
		})
	})

	Convey("Snapshots report each pigeon in name order", t, func() {
		c := NewConductor(map[string]Pigeon{
			"turret":  &mockPigeon{offline: true},
			"chassis": &mockPigeon{yaw: 45},
		}, 30)

		snap := c.Snapshot()
		So(snap.Type, ShouldEqual, MSG_SNAPSHOT)
		So(len(snap.Pigeons), ShouldEqual, 2)

		So(snap.Pigeons[0].Name, ShouldEqual, "chassis")
		So(snap.Pigeons[0].State, ShouldEqual, pigeon.Ready)
		So(snap.Pigeons[0].YPR[0], ShouldEqual, 45)
		So(snap.Pigeons[0].FusedHeading, ShouldEqual, 45)
		So(snap.Pigeons[0].Error, ShouldBeEmpty)

		So(snap.Pigeons[1].Name, ShouldEqual, "turret")
		So(snap.Pigeons[1].State, ShouldEqual, pigeon.NoComm)
		So(snap.Pigeons[1].Error, ShouldNotBeEmpty)
	})
}

func TestConductorWebsocket(t *testing.T) {
	Convey("Given a websocket client", t, func() {
		chassis := &mockPigeon{yaw: 10}
		c := NewConductor(map[string]Pigeon{"chassis": chassis}, 30)

		server := httptest.NewServer(http.HandlerFunc(c.ServeWS))
		defer server.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
		So(err, ShouldBeNil)
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var first testSnapshot
		So(conn.ReadJSON(&first), ShouldBeNil)
		So(first.Type, ShouldEqual, MSG_SNAPSHOT)
		So(first.Pigeons[0].State, ShouldEqual, "Ready")
		So(first.Pigeons[0].YPR[0], ShouldEqual, 10)
		So(c.Clients(), ShouldEqual, 1)

		Convey("commands are applied and answered", func() {
			So(conn.WriteJSON(Cmd{Cmd: "set_yaw", Name: "chassis", Value: 30}), ShouldBeNil)

			var reply Reply
			So(conn.ReadJSON(&reply), ShouldBeNil)
			So(reply.Type, ShouldEqual, MSG_REPLY)
			So(reply.Cmd, ShouldEqual, "set_yaw")
			So(reply.Error, ShouldBeEmpty)
			So(chassis.lastCall(), ShouldEqual, "set_yaw")

			c.Broadcast()
			var snap testSnapshot
			So(conn.ReadJSON(&snap), ShouldBeNil)
			So(snap.Pigeons[0].YPR[0], ShouldEqual, 30)
		})

		Convey("failures are answered with the error", func() {
			So(conn.WriteJSON(Cmd{Cmd: "set_fused_heading", Name: "chassis"}), ShouldBeNil)

			var reply Reply
			So(conn.ReadJSON(&reply), ShouldBeNil)
			So(reply.Error, ShouldEqual, deverr.SigNotUpdated.Error())

			So(conn.WriteMessage(websocket.TextMessage, []byte("{")), ShouldBeNil)
			So(conn.ReadJSON(&reply), ShouldBeNil)
			So(reply.Error, ShouldEqual, "invalid json")
		})
	})
}
