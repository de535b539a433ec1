package canbus

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"
)

const (
	SLCAN_DEFAULT_BAUD    = 115200
	SLCAN_DEFAULT_BITRATE = 1000000
	SLCAN_READ_TIMEOUT    = 100 * time.Millisecond
)

var (
	ERR_SLCAN_BITRATE = errors.New("bitrate is not supported by slcan")
	ERR_SLCAN_FRAME   = errors.New("malformed slcan frame")
)

// slcan "Sn" setup codes
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCANBus talks to a USB/serial CAN adapter using the Lawicel ASCII protocol.
type SLCANBus struct {
	listeners
	port io.ReadWriteCloser
	lock sync.Mutex
	open bool
	log  logrus.FieldLogger
}

func NewSLCANBus(address string, baud, bitrate int) (bus *SLCANBus, err error) {
	if baud <= 0 {
		baud = SLCAN_DEFAULT_BAUD
	}
	port, err := serial.Open(&serial.Config{
		Address:  address,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  SLCAN_READ_TIMEOUT,
	})
	if err != nil {
		return nil, err
	}

	bus, err = newSLCANBus(port, bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	bus.log = bus.log.WithField("port", address)
	return
}

// newSLCANBus configures the adapter behind port and starts reading from it.
func newSLCANBus(port io.ReadWriteCloser, bitrate int) (*SLCANBus, error) {
	if bitrate == 0 {
		bitrate = SLCAN_DEFAULT_BITRATE
	}
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, ERR_SLCAN_BITRATE
	}

	bus := &SLCANBus{
		port: port,
		open: true,
		log:  logrus.StandardLogger().WithField("bus", "slcan"),
	}

	// close any open channel first, set the bitrate and open it again
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			return nil, err
		}
	}

	go bus.reader()

	return bus, nil
}

func (c *SLCANBus) AddListener(listener Listener) {
	c.add(listener)
}

func (c *SLCANBus) SendMsg(msg CANMsg) error {
	line, err := encodeSLCAN(msg)
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.open {
		return ERR_BUS_CLOSED
	}
	_, err = io.WriteString(c.port, line)
	return err
}

func (c *SLCANBus) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.open {
		return nil
	}
	c.open = false
	io.WriteString(c.port, "C\r")
	return c.port.Close()
}

func (c *SLCANBus) isOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.open
}

func (c *SLCANBus) reader() {
	buf := make([]byte, 64)
	var line []byte

	for c.isOpen() {
		n, err := c.port.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\r':
				c.handleLine(line)
				line = line[:0]
			case '\a':
				c.log.Warn("adapter rejected a command")
				line = line[:0]
			default:
				line = append(line, b)
			}
		}

		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			if c.isOpen() {
				c.log.WithError(err).Error("slcan read failed, stopping reader")
			}
			return
		}
	}
}

func (c *SLCANBus) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	switch line[0] {
	case 't', 'T':
		msg, err := parseSLCAN(string(line))
		if err != nil {
			c.log.WithError(err).WithField("line", string(line)).Warn("dropping slcan frame")
			return
		}
		c.dispatch(msg)
	default:
		// z/Z transmit acks and version replies
	}
}

func encodeSLCAN(msg CANMsg) (string, error) {
	if len(msg.Data) > msgMaxLength {
		return "", ERR_DATA_TOO_LONG
	}

	var head string
	if msg.Extended || msg.ID > CAN_SFF_MASK {
		head = fmt.Sprintf("T%08X", msg.ID&CAN_EFF_MASK)
	} else {
		head = fmt.Sprintf("t%03X", msg.ID)
	}

	return fmt.Sprintf("%s%d%X\r", head, len(msg.Data), msg.Data), nil
}

func parseSLCAN(line string) (msg CANMsg, err error) {
	idLen := 3
	if line[0] == 'T' {
		idLen = 8
		msg.Extended = true
	} else if line[0] != 't' {
		return msg, ERR_SLCAN_FRAME
	}
	if len(line) < 1+idLen+1 {
		return msg, ERR_SLCAN_FRAME
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return msg, ERR_SLCAN_FRAME
	}
	msg.ID = uint32(id) & CAN_EFF_MASK

	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > msgMaxLength {
		return msg, ERR_SLCAN_FRAME
	}

	data := line[2+idLen:]
	if len(data) < dlc*2 {
		return msg, ERR_SLCAN_FRAME
	}
	msg.Data, err = hex.DecodeString(data[:dlc*2])
	if err != nil {
		return msg, ERR_SLCAN_FRAME
	}

	return msg, nil
}
