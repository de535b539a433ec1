package canbus

import (
	"encoding/binary"
	"errors"
)

const (
	msgMaxLength = 8
	frameSize    = 16 // sizeof(struct can_frame)

	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7ff
	CAN_EFF_MASK = 0x1fffffff
)

// errors
var (
	ERR_DATA_TOO_LONG  = errors.New("data length exceeds 8 bytes")
	ERR_SHORT_FRAME    = errors.New("raw frame is shorter than a can_frame")
	ERR_NOT_DATA_FRAME = errors.New("raw frame is an error or remote frame")
)

type CANMsg struct {
	ID       uint32 // arbitration ID, 11 or 29 bits
	Extended bool   // use the 29 bit extended frame format
	Data     []byte // raw data up to eight bytes. DLC is taken from len(Data).
}

// NewMsg packs payload into a message. Byte k of the frame is bits [8k, 8k+8) of payload.
func NewMsg(id uint32, payload uint64, length int) CANMsg {
	if length < 0 {
		length = 0
	} else if length > msgMaxLength {
		length = msgMaxLength
	}

	buf := make([]byte, msgMaxLength)
	binary.LittleEndian.PutUint64(buf, payload)

	return CANMsg{
		ID:       id & CAN_EFF_MASK,
		Extended: id > CAN_SFF_MASK,
		Data:     buf[:length],
	}
}

// Payload returns the data bytes packed the same way NewMsg expects them.
func (msg CANMsg) Payload() uint64 {
	buf := make([]byte, msgMaxLength)
	copy(buf, msg.Data)
	return binary.LittleEndian.Uint64(buf)
}

// toByteArray encodes msg as a linux struct can_frame.
func (msg *CANMsg) toByteArray() (raw []byte, err error) {
	if len(msg.Data) > msgMaxLength {
		return nil, ERR_DATA_TOO_LONG
	}

	raw = make([]byte, frameSize)

	oid := msg.ID
	if msg.Extended || oid != oid&CAN_SFF_MASK {
		oid = (oid & CAN_EFF_MASK) | CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(raw[0:4], oid)

	raw[4] = byte(len(msg.Data))

	copy(raw[8:], msg.Data)

	return
}

func msgFromByteArray(raw []byte) (msg CANMsg, err error) {
	if len(raw) < frameSize {
		return msg, ERR_SHORT_FRAME
	}

	oid := binary.LittleEndian.Uint32(raw[0:4])
	if oid&(CAN_ERR_FLAG|CAN_RTR_FLAG) != 0 {
		return msg, ERR_NOT_DATA_FRAME
	}

	if oid&CAN_EFF_FLAG != 0 {
		msg.ID = oid & CAN_EFF_MASK
		msg.Extended = true
	} else {
		msg.ID = oid & CAN_SFF_MASK
	}

	dataLength := int(raw[4])
	if dataLength > msgMaxLength {
		dataLength = msgMaxLength
	}
	msg.Data = make([]byte, dataLength)
	copy(msg.Data, raw[8:8+dataLength])

	return msg, nil
}
