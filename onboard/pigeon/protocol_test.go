package pigeon

import (
	"errors"
	"github.com/CodedInternet/gopigeon/onboard/canbus"
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
	"time"
)

type failingTransport struct{}

func (failingTransport) Send(arbID uint32, payload uint64, length int, period time.Duration) error {
	return deverr.TxFailed
}

func (failingTransport) Receive(arbID uint32, allowStale bool) (canbus.Frame, error) {
	return canbus.Frame{}, deverr.RxTimeout
}

func TestParamProtocol(t *testing.T) {
	Convey("given a protocol on a silent bus", t, func() {
		rig := newTestRig(5)
		proto := NewParamProtocol(rig.cache, rig.ids, rig.clock, nil)

		Convey("configGet with no timeout fails immediately", func() {
			start := rig.clock.Now()
			value, err := proto.ConfigGet(BetaGain, 0, 0)

			So(err, ShouldEqual, deverr.SigNotUpdated)
			So(value, ShouldEqual, 0)
			So(rig.clock.Now(), ShouldResemble, start)
			So(proto.State(), ShouldEqual, TimedOut)

			Convey("after sending the request", func() {
				So(rig.lastSent().ID, ShouldEqual, rig.ids.ID(PARAM_REQUEST))
				So(len(rig.lastSent().Data), ShouldEqual, PARAM_FRAME_LENGTH)
			})
		})

		Convey("configGet waits out the whole timeout", func() {
			start := rig.clock.Now()
			_, err := proto.ConfigGet(BetaGain, 0, 10*time.Millisecond)

			So(err, ShouldEqual, deverr.SigNotUpdated)
			So(rig.clock.Now().Sub(start), ShouldEqual, 10*time.Millisecond)
			So(rig.clock.sleeps, ShouldEqual, 10)
		})

		Convey("configSet with no timeout only sends", func() {
			err := proto.ConfigSet(YawOffset, 256, uint8(AddOffset), 0, 0)
			So(err, ShouldBeNil)

			sent := rig.lastSent()
			So(sent.ID, ShouldEqual, rig.ids.ID(PARAM_SET))
			So(DecodeParamFrame(sent.Payload()), ShouldResemble, ParamFrame{Param: YawOffset, Value: 256, SubValue: uint8(AddOffset)})
			So(proto.State(), ShouldEqual, Requested)
		})

		Convey("configSet times out without an echo", func() {
			err := proto.ConfigSet(YawOffset, 256, 0, 0, 3*time.Millisecond)
			So(err, ShouldEqual, deverr.SigNotUpdated)
		})

		Convey("negative timeouts are rejected", func() {
			So(proto.ConfigSet(YawOffset, 0, 0, 0, -time.Millisecond), ShouldEqual, deverr.InvalidParamValue)
			_, err := proto.ConfigGet(YawOffset, 0, -time.Millisecond)
			So(err, ShouldEqual, deverr.InvalidParamValue)
			So(rig.sentCount(), ShouldEqual, 0)
		})

		Convey("bad ordinals are rejected before sending", func() {
			So(proto.ConfigSet(YawOffset, 0, 0, 16, 0), ShouldEqual, deverr.InvalidParamValue)
			So(rig.sentCount(), ShouldEqual, 0)
		})

		Convey("polling without a request reports idle", func() {
			_, state, err := proto.PollForParamResponse(YawOffset, 0)
			So(state, ShouldEqual, Idle)
			So(err, ShouldEqual, deverr.SigNotUpdated)
		})

		Convey("a split request resolves once the reply is cached", func() {
			So(proto.RequestParam(CustomParam, 0, 0, 1), ShouldBeNil)

			_, state, err := proto.PollForParamResponse(CustomParam, 1)
			So(err, ShouldBeNil)
			So(state, ShouldEqual, Requested)

			rig.clock.Advance(2 * time.Millisecond)
			rig.cache.Inject(rig.ids.ID(PARAM_RESPONSE), ParamFrame{Param: CustomParam, Ordinal: 1, Value: 42}.Encode(), PARAM_FRAME_LENGTH)

			value, state, err := proto.PollForParamResponse(CustomParam, 1)
			So(err, ShouldBeNil)
			So(state, ShouldEqual, Resolved)
			So(value, ShouldEqual, 42)

			Convey("and stays resolved", func() {
				value, state, _ := proto.PollForParamResponse(CustomParam, 1)
				So(state, ShouldEqual, Resolved)
				So(value, ShouldEqual, 42)
			})

			Convey("polling for a different pair reports idle", func() {
				_, state, _ := proto.PollForParamResponse(CustomParam, 2)
				So(state, ShouldEqual, Idle)
			})
		})

		Convey("a reply cached at the same instant as the request is ignored", func() {
			rig.cache.Inject(rig.ids.ID(PARAM_RESPONSE), ParamFrame{Param: CustomParam, Value: 1}.Encode(), PARAM_FRAME_LENGTH)

			So(proto.RequestParam(CustomParam, 0, 0, 0), ShouldBeNil)
			_, state, _ := proto.PollForParamResponse(CustomParam, 0)
			So(state, ShouldEqual, Requested)

			rig.cache.Inject(rig.ids.ID(PARAM_RESPONSE), ParamFrame{Param: CustomParam, Value: 2}.Encode(), PARAM_FRAME_LENGTH)
			value, state, _ := proto.PollForParamResponse(CustomParam, 0)
			So(state, ShouldEqual, Resolved)
			So(value, ShouldEqual, 2)
		})

		Convey("replies cached before the request was sent are ignored", func() {
			rig.cache.Inject(rig.ids.ID(PARAM_RESPONSE), ParamFrame{Param: CustomParam, Value: 1}.Encode(), PARAM_FRAME_LENGTH)
			rig.clock.Advance(time.Millisecond)

			So(proto.RequestParam(CustomParam, 0, 0, 0), ShouldBeNil)
			_, state, _ := proto.PollForParamResponse(CustomParam, 0)
			So(state, ShouldEqual, Requested)
		})
	})

	Convey("given a device that echoes parameters", t, func() {
		rig := newTestRig(7)
		proto := NewParamProtocol(rig.cache, rig.ids, rig.clock, nil)
		stored := map[ParamEnum]int32{BetaGain: 1 << 21}

		rig.echoParams(func(req ParamFrame) (ParamFrame, bool) {
			if req.Value != 0 {
				stored[req.Param] = req.Value
			}
			req.Value = stored[req.Param]
			return req, true
		})

		Convey("configSet is confirmed", func() {
			So(proto.ConfigSet(YawOffset, 90*256, 0, 0, 10*time.Millisecond), ShouldBeNil)
			So(stored[YawOffset], ShouldEqual, 90*256)
			So(proto.State(), ShouldEqual, Resolved)
		})

		Convey("configGet returns the stored value", func() {
			value, err := proto.ConfigGet(BetaGain, 0, 10*time.Millisecond)
			So(err, ShouldBeNil)
			So(value, ShouldEqual, 1<<21)
		})

		Convey("configGet with no timeout succeeds when the reply is immediate", func() {
			value, err := proto.ConfigGet(BetaGain, 0, 0)
			So(err, ShouldBeNil)
			So(value, ShouldEqual, 1<<21)
		})
	})

	Convey("replies for other ordinals do not resolve a request", t, func() {
		rig := newTestRig(7)
		proto := NewParamProtocol(rig.cache, rig.ids, rig.clock, nil)

		rig.echoParams(func(req ParamFrame) (ParamFrame, bool) {
			req.Ordinal = (req.Ordinal + 1) & MAX_ORDINAL
			return req, true
		})

		_, err := proto.ConfigGet(CustomParam, 2, 5*time.Millisecond)
		So(err, ShouldEqual, deverr.SigNotUpdated)
	})

	Convey("replies for other params do not resolve a request", t, func() {
		rig := newTestRig(7)
		proto := NewParamProtocol(rig.cache, rig.ids, rig.clock, nil)

		rig.echoParams(func(req ParamFrame) (ParamFrame, bool) {
			req.Param = StickyFaults
			return req, true
		})

		_, err := proto.ConfigGet(CustomParam, 0, 5*time.Millisecond)
		So(err, ShouldEqual, deverr.SigNotUpdated)
	})

	Convey("given a clock that moves between every read", t, func() {
		clock := &jitterClock{now: time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC), step: 2 * time.Millisecond}
		bus := canbus.NewLoopbackBus()
		cache := canbus.NewFrameCache(bus, canbus.WithClock(clock))
		ids, _ := NewArbIDMap(3, false)
		proto := NewParamProtocol(cache, ids, clock, nil)

		answer := true
		bus.AddListener(func(msg canbus.CANMsg) {
			if msg.ID != ids.ID(PARAM_REQUEST) || !answer {
				return
			}
			req := DecodeParamFrame(msg.Payload())
			req.Value = 77
			bus.SendMsg(canbus.NewMsg(ids.ID(PARAM_RESPONSE), req.Encode(), PARAM_FRAME_LENGTH))
		})

		value, err := proto.ConfigGet(CustomParam, 0, 10*time.Millisecond)
		So(err, ShouldBeNil)
		So(value, ShouldEqual, 77)

		Convey("the previous reply does not answer a repeated request", func() {
			answer = false

			_, err := proto.ConfigGet(CustomParam, 0, 10*time.Millisecond)
			So(err, ShouldEqual, deverr.SigNotUpdated)
			So(proto.State(), ShouldEqual, TimedOut)
		})
	})

	Convey("transport failures are returned and leave the protocol idle", t, func() {
		ids, _ := NewArbIDMap(1, false)
		proto := NewParamProtocol(failingTransport{}, ids, newManualClock(), nil)

		err := proto.ConfigSet(YawOffset, 0, 0, 0, time.Millisecond)
		So(err, ShouldEqual, deverr.TxFailed)
		So(errors.Is(err, deverr.TxFailed), ShouldBeTrue)
		So(proto.State(), ShouldEqual, Idle)
	})
}
