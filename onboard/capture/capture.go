package capture

import (
	"context"
	"sync"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/sirupsen/logrus"
)

const (
	RECORD_QUEUE_LENGTH = 1024
)

// Session is one recording run on one bus.
type Session struct {
	ID      int    `storm:"id,increment"`
	Bus     string `storm:"index"`
	Started time.Time
	Stopped time.Time
	Frames  int
	Dropped int
}

// Frame is a received CAN frame and its offset from the start of the session.
type Frame struct {
	ID       int `storm:"id,increment"`
	Session  int `storm:"index"`
	Offset   time.Duration
	ArbID    uint32
	Extended bool
	Data     []byte
}

func (f Frame) Msg() canbus.CANMsg {
	return canbus.CANMsg{ID: f.ArbID, Extended: f.Extended, Data: f.Data}
}

// Open opens (or creates) a capture database.
func Open(path string) (db *storm.DB, err error) {
	db, err = storm.Open(path)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&Session{}); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Init(&Frame{}); err != nil {
		db.Close()
		return nil, err
	}

	return
}

// Recorder saves every frame seen on a bus until it is stopped. Frames are queued by
// the bus listener and written by a separate goroutine.
type Recorder struct {
	db    *storm.DB
	clock canbus.Clock
	log   logrus.FieldLogger

	lock    sync.Mutex
	session Session
	stopped bool
	queue   chan Frame
	done    chan error
}

func NewRecorder(db *storm.DB, bus canbus.CANBusInterface, busName string, clock canbus.Clock) (r *Recorder, err error) {
	if clock == nil {
		clock = canbus.SystemClock{}
	}

	r = &Recorder{
		db:    db,
		clock: clock,
		log:   logrus.StandardLogger().WithField("bus", busName),
		queue: make(chan Frame, RECORD_QUEUE_LENGTH),
		done:  make(chan error, 1),
		session: Session{
			Bus:     busName,
			Started: clock.Now(),
		},
	}

	if err = db.Save(&r.session); err != nil {
		return nil, err
	}

	go r.writer()
	bus.AddListener(r.handle)

	r.log.WithField("session", r.session.ID).Info("recording started")
	return
}

func (r *Recorder) handle(msg canbus.CANMsg) {
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.stopped {
		return
	}

	frame := Frame{
		Session:  r.session.ID,
		Offset:   r.clock.Now().Sub(r.session.Started),
		ArbID:    msg.ID,
		Extended: msg.Extended,
		Data:     data,
	}

	select {
	case r.queue <- frame:
		r.session.Frames++
	default:
		r.session.Dropped++
	}
}

func (r *Recorder) writer() {
	var firstErr error
	for frame := range r.queue {
		if err := r.db.Save(&frame); err != nil && firstErr == nil {
			firstErr = err
			r.log.WithError(err).Error("unable to save frame")
		}
	}
	r.done <- firstErr
}

// Session returns the session as recorded so far.
func (r *Recorder) Session() Session {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.session
}

// Stop flushes the queued frames and stores the final session record.
func (r *Recorder) Stop() (session Session, err error) {
	r.lock.Lock()
	if r.stopped {
		session = r.session
		r.lock.Unlock()
		return
	}
	r.stopped = true
	r.session.Stopped = r.clock.Now()
	close(r.queue)
	session = r.session
	r.lock.Unlock()

	err = <-r.done
	if e := r.db.Update(&session); err == nil {
		err = e
	}

	r.log.WithFields(logrus.Fields{
		"session": session.ID,
		"frames":  session.Frames,
		"dropped": session.Dropped,
	}).Info("recording stopped")

	return
}

func Sessions(db *storm.DB) (sessions []Session, err error) {
	err = db.All(&sessions)
	return
}

// Frames returns the frames of a session in the order they were received.
func Frames(db *storm.DB, session int) (frames []Frame, err error) {
	err = db.Select(q.Eq("Session", session)).OrderBy("Offset", "ID").Find(&frames)
	if err == storm.ErrNotFound {
		return nil, nil
	}
	return
}

// Sink receives replayed frames. Every bus is a Sink.
type Sink interface {
	SendMsg(msg canbus.CANMsg) error
}

// CacheSink replays straight into a FrameCache without a bus.
type CacheSink struct {
	Cache *canbus.FrameCache
}

func (s CacheSink) SendMsg(msg canbus.CANMsg) error {
	s.Cache.Inject(msg.ID, msg.Payload(), len(msg.Data))
	return nil
}

// Replay sends the frames of a session to sink with their original spacing.
func Replay(ctx context.Context, db *storm.DB, session int, sink Sink, clock canbus.Clock) (sent int, err error) {
	if clock == nil {
		clock = canbus.SystemClock{}
	}

	frames, err := Frames(db, session)
	if err != nil {
		return
	}

	start := clock.Now()
	for _, frame := range frames {
		if err = ctx.Err(); err != nil {
			return
		}

		if wait := frame.Offset - clock.Now().Sub(start); wait > 0 {
			clock.Sleep(wait)
		}

		if err = sink.SendMsg(frame.Msg()); err != nil {
			return
		}
		sent++
	}

	return
}
