package pigeon

import (
	"sync"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/sirupsen/logrus"
)

const (
	PARAM_POLL_INTERVAL = time.Millisecond
)

type RequestState int

const (
	Idle RequestState = iota
	Requested
	Resolved
	TimedOut
)

func (s RequestState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Requested:
		return "Requested"
	case Resolved:
		return "Resolved"
	case TimedOut:
		return "TimedOut"
	}
	return "Unknown"
}

type pendingRequest struct {
	param   ParamEnum
	ordinal int
	seenSeq uint64 // receipt of the last PARAM_RESPONSE cached before sending
	state   RequestState
	value   int32
}

// ParamProtocol runs the PARAM_SET/PARAM_REQUEST -> PARAM_RESPONSE exchange for one device.
// Only one request is tracked at a time. A newer request replaces the older one.
type ParamProtocol struct {
	transport canbus.Transport
	ids       ArbIDMap
	clock     canbus.Clock
	log       logrus.FieldLogger

	exchange sync.Mutex // held for a whole ConfigSet/ConfigGet
	lock     sync.Mutex
	pending  pendingRequest
}

func NewParamProtocol(transport canbus.Transport, ids ArbIDMap, clock canbus.Clock, log logrus.FieldLogger) *ParamProtocol {
	if clock == nil {
		clock = canbus.SystemClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &ParamProtocol{
		transport: transport,
		ids:       ids,
		clock:     clock,
		log:       log,
	}
}

func (p *ParamProtocol) send(kind FrameKind, frame ParamFrame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	var seenSeq uint64
	if prev, err := p.transport.Receive(p.ids.ID(PARAM_RESPONSE), true); err == nil {
		seenSeq = prev.Seq
	}

	// the request is armed before sending so a reply delivered during Send is not missed
	p.lock.Lock()
	p.pending = pendingRequest{
		param:   frame.Param,
		ordinal: frame.Ordinal,
		seenSeq: seenSeq,
		state:   Requested,
	}
	p.lock.Unlock()

	err := p.transport.Send(p.ids.ID(kind), frame.Encode(), PARAM_FRAME_LENGTH, 0)
	if err != nil {
		p.lock.Lock()
		p.pending.state = Idle
		p.lock.Unlock()
		return err
	}

	p.log.WithFields(logrus.Fields{
		"param":   frame.Param,
		"ordinal": frame.Ordinal,
		"frame":   kind,
	}).Debug("parameter request sent")

	return nil
}

// RequestParam sends a PARAM_REQUEST without waiting for the reply. value and subValue
// qualify the request for parameters that need it, such as StatusFramePeriod.
func (p *ParamProtocol) RequestParam(param ParamEnum, value int32, subValue uint8, ordinal int) error {
	return p.send(PARAM_REQUEST, ParamFrame{Param: param, Ordinal: ordinal, Value: value, SubValue: subValue})
}

// PollForParamResponse checks the latest PARAM_RESPONSE against the outstanding request.
// It never blocks. A request that is still waiting reports Requested with a nil error.
func (p *ParamProtocol) PollForParamResponse(param ParamEnum, ordinal int) (value int32, state RequestState, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.pending.param != param || p.pending.ordinal != ordinal || p.pending.state == Idle {
		return 0, Idle, deverr.SigNotUpdated
	}

	switch p.pending.state {
	case Resolved:
		return p.pending.value, Resolved, nil
	case TimedOut:
		return 0, TimedOut, deverr.SigNotUpdated
	}

	frame, err := p.transport.Receive(p.ids.ID(PARAM_RESPONSE), false)
	if err != nil {
		return 0, Requested, nil
	}

	if frame.Seq <= p.pending.seenSeq {
		// reply to an earlier exchange
		return 0, Requested, nil
	}

	resp := DecodeParamFrame(frame.Payload)
	if resp.Param != param || resp.Ordinal != ordinal {
		return 0, Requested, nil
	}

	p.pending.state = Resolved
	p.pending.value = resp.Value

	p.log.WithFields(logrus.Fields{"param": param, "ordinal": ordinal, "value": resp.Value}).Debug("parameter resolved")

	return resp.Value, Resolved, nil
}

// State reports the outstanding request's progress.
func (p *ParamProtocol) State() RequestState {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.pending.state
}

func (p *ParamProtocol) await(param ParamEnum, ordinal int, timeout time.Duration) (value int32, err error) {
	start := p.clock.Now()

	for {
		value, state, _ := p.PollForParamResponse(param, ordinal)
		if state == Resolved {
			return value, nil
		}

		if p.clock.Now().Sub(start) >= timeout {
			p.lock.Lock()
			if p.pending.param == param && p.pending.ordinal == ordinal {
				p.pending.state = TimedOut
			}
			p.lock.Unlock()

			p.log.WithFields(logrus.Fields{
				"param":   param,
				"ordinal": ordinal,
				"timeout": timeout,
			}).Warn("no parameter response")
			return 0, deverr.SigNotUpdated
		}

		p.clock.Sleep(PARAM_POLL_INTERVAL)
	}
}

// ConfigSet writes a parameter and waits up to timeout for the device to echo it.
// A zero timeout sends without waiting for confirmation.
func (p *ParamProtocol) ConfigSet(param ParamEnum, value int32, subValue uint8, ordinal int, timeout time.Duration) error {
	if timeout < 0 {
		return deverr.InvalidParamValue
	}

	p.exchange.Lock()
	defer p.exchange.Unlock()

	frame := ParamFrame{Param: param, Ordinal: ordinal, Value: value, SubValue: subValue}
	if err := p.send(PARAM_SET, frame); err != nil {
		return err
	}

	if timeout == 0 {
		return nil
	}

	_, err := p.await(param, ordinal, timeout)
	return err
}

// ConfigGet reads a parameter. A zero timeout checks for a reply once.
func (p *ParamProtocol) ConfigGet(param ParamEnum, ordinal int, timeout time.Duration) (value int32, err error) {
	return p.ConfigGetWithValue(param, 0, 0, ordinal, timeout)
}

// ConfigGetWithValue reads a parameter whose request carries a value, such as the frame
// selector of StatusFramePeriod.
func (p *ParamProtocol) ConfigGetWithValue(param ParamEnum, valueToSend int32, subValue uint8, ordinal int, timeout time.Duration) (value int32, err error) {
	if timeout < 0 {
		return 0, deverr.InvalidParamValue
	}

	p.exchange.Lock()
	defer p.exchange.Unlock()

	if err = p.RequestParam(param, valueToSend, subValue, ordinal); err != nil {
		return
	}

	return p.await(param, ordinal, timeout)
}
