package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	FRAMERATE     = 10
	WRITE_TIMEOUT = time.Second

	MSG_SNAPSHOT = "snapshot"
	MSG_REPLY    = "reply"
)

// Pigeon is what the conductor needs from a driver. Snapshots go through Peek so that
// streaming does not disturb GetLastError or the usage stats.
type Pigeon interface {
	Peek() (pigeon.Reading, error)
	SetYaw(angleDeg float64, timeoutMs int) error
	AddYaw(angleDeg float64, timeoutMs int) error
	SetFusedHeading(angleDeg float64, timeoutMs int) error
	EnterCalibrationMode(mode pigeon.CalibrationMode, timeoutMs int) error
}

type Cmd struct {
	Cmd   string  `json:"cmd"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Mode  string  `json:"mode,omitempty"`
}

type Reply struct {
	Type  string `json:"type"`
	Cmd   string `json:"cmd"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type PigeonSnapshot struct {
	Name         string             `json:"name"`
	State        pigeon.PigeonState `json:"state"`
	Description  string             `json:"description"`
	YPR          [3]float64         `json:"ypr"`
	FusedHeading float64            `json:"fused_heading"`
	Fusing       bool               `json:"fusing"`
	Error        string             `json:"error,omitempty"`
}

type Snapshot struct {
	Type    string           `json:"type"`
	Time    time.Time        `json:"time"`
	Pigeons []PigeonSnapshot `json:"pigeons"`
}

type client struct {
	conn *websocket.Conn
	lock sync.Mutex
}

func (c *client) send(v interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
	return c.conn.WriteJSON(v)
}

// Conductor streams snapshots of every Pigeon to websocket clients and applies the
// commands they send back.
type Conductor struct {
	Pigeons   map[string]Pigeon
	TimeoutMs int

	upgrader websocket.Upgrader
	lock     sync.Mutex
	clients  map[*client]struct{}
	log      logrus.FieldLogger
}

func NewConductor(pigeons map[string]Pigeon, timeoutMs int) *Conductor {
	return &Conductor{
		Pigeons:   pigeons,
		TimeoutMs: timeoutMs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		log:     logrus.StandardLogger().WithField("component", "conductor"),
	}
}

func (c *Conductor) ProcessCommand(cmd Cmd) error {
	p, ok := c.Pigeons[cmd.Name]
	if !ok {
		return fmt.Errorf("no such pigeon %s", cmd.Name)
	}

	switch cmd.Cmd {
	case "set_yaw":
		return p.SetYaw(cmd.Value, c.TimeoutMs)

	case "add_yaw":
		return p.AddYaw(cmd.Value, c.TimeoutMs)

	case "set_fused_heading":
		return p.SetFusedHeading(cmd.Value, c.TimeoutMs)

	case "enter_calibration":
		mode, err := pigeon.ParseCalibrationMode(cmd.Mode)
		if err != nil {
			return err
		}
		return p.EnterCalibrationMode(mode, c.TimeoutMs)

	default:
		return fmt.Errorf("unable to process command %s", cmd.Cmd)
	}
}

func (c *Conductor) names() []string {
	names := make([]string, 0, len(c.Pigeons))
	for name := range c.Pigeons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot reads every Pigeon. A Pigeon that cannot be read is reported with its error.
func (c *Conductor) Snapshot() Snapshot {
	snap := Snapshot{Type: MSG_SNAPSHOT, Time: time.Now()}

	for _, name := range c.names() {
		reading, err := c.Pigeons[name].Peek()
		ps := PigeonSnapshot{
			Name:         name,
			State:        reading.Status.State,
			Description:  reading.Status.Description,
			YPR:          reading.YPR,
			FusedHeading: reading.Fused.Heading,
			Fusing:       reading.Fused.IsFusing,
		}
		if err != nil {
			ps.Error = err.Error()
		}

		snap.Pigeons = append(snap.Pigeons, ps)
	}

	return snap
}

// Broadcast sends one snapshot to every client. Clients that cannot be written to are dropped.
func (c *Conductor) Broadcast() {
	c.lock.Lock()
	clients := make([]*client, 0, len(c.clients))
	for cl := range c.clients {
		clients = append(clients, cl)
	}
	c.lock.Unlock()

	if len(clients) == 0 {
		return
	}

	snap := c.Snapshot()
	for _, cl := range clients {
		if err := cl.send(snap); err != nil {
			c.log.WithError(err).Debug("dropping client")
			c.remove(cl)
		}
	}
}

// UpdateClients broadcasts at FRAMERATE until ctx is done.
func (c *Conductor) UpdateClients(ctx context.Context) {
	ticker := time.NewTicker(time.Second / FRAMERATE)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Broadcast()
		}
	}
}

func (c *Conductor) Clients() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.clients)
}

func (c *Conductor) remove(cl *client) {
	c.lock.Lock()
	delete(c.clients, cl)
	c.lock.Unlock()

	cl.conn.Close()
}

// ServeWS upgrades the request to a websocket. The client gets a snapshot straight away
// and a reply to every command it sends.
func (c *Conductor) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.WithError(err).Warn("upgrade failed")
		return
	}

	cl := &client{conn: conn}
	c.lock.Lock()
	c.clients[cl] = struct{}{}
	c.lock.Unlock()
	defer c.remove(cl)

	if err := cl.send(c.Snapshot()); err != nil {
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.log.WithError(err).Debug("client closed")
			return
		}

		var cmd Cmd
		reply := Reply{Type: MSG_REPLY}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			reply.Error = "invalid json"
		} else {
			reply.Cmd, reply.Name = cmd.Cmd, cmd.Name
			if err := c.ProcessCommand(cmd); err != nil {
				reply.Error = err.Error()
				c.log.WithError(err).WithField("cmd", cmd.Cmd).Warn("command failed")
			}
		}

		if err := cl.send(reply); err != nil {
			return
		}
	}
}
