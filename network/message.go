// Package network provides message types for rank and service communication
package network

import (
	"encoding/binary"
	"fmt"
)

// MessageType defines the type of network message
type MessageType uint32

const (
	// Control message types (0-99)
	MessageTypeHeartbeat MessageType = 1
	MessageTypeAck       MessageType = 2
	MessageTypeError     MessageType = 3
	MessageTypeClose     MessageType = 4
	MessageTypeHello     MessageType = 5

	// Rank message types (100-199)
	MessageTypeHalo   MessageType = 100
	MessageTypeResult MessageType = 101
	MessageTypeCensus MessageType = 102
	MessageTypeGather MessageType = 103

	// Service message types (200+)
	MessageTypeRunRequest  MessageType = 200
	MessageTypeRunResponse MessageType = 201
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeHeartbeat:
		return "heartbeat"
	case MessageTypeAck:
		return "ack"
	case MessageTypeError:
		return "error"
	case MessageTypeClose:
		return "close"
	case MessageTypeHello:
		return "hello"
	case MessageTypeHalo:
		return "halo"
	case MessageTypeResult:
		return "result"
	case MessageTypeCensus:
		return "census"
	case MessageTypeGather:
		return "gather"
	case MessageTypeRunRequest:
		return "run_request"
	case MessageTypeRunResponse:
		return "run_response"
	default:
		return fmt.Sprintf("unknown(%d)", mt)
	}
}

// Message is a framed unit on the wire: a fixed header and a payload
type Message struct {
	Type MessageType `json:"type"`

	// Sequence carries the generation number on halo frames
	Sequence uint32 `json:"sequence"`

	// Session identifies the run a frame belongs to
	Session uint64 `json:"session"`

	Data []byte `json:"data,omitempty"`

	// ConnectionID is filled in on receipt
	ConnectionID string `json:"-"`
}

// NewMessage creates a new message with the specified type and data
func NewMessage(msgType MessageType, data []byte) *Message {
	return &Message{
		Type: msgType,
		Data: data,
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(errorMsg string) *Message {
	return NewMessage(MessageTypeError, []byte(errorMsg))
}

// Size returns the total size of the message in bytes
func (m *Message) Size() int {
	return MessageHeaderSize + len(m.Data)
}

// Clone creates a deep copy of the message
func (m *Message) Clone() *Message {
	clone := &Message{
		Type:         m.Type,
		Sequence:     m.Sequence,
		Session:      m.Session,
		ConnectionID: m.ConnectionID,
	}

	if m.Data != nil {
		clone.Data = make([]byte, len(m.Data))
		copy(clone.Data, m.Data)
	}

	return clone
}

const (
	// MessageHeaderSize is the fixed size of the message header in bytes
	MessageHeaderSize = 20

	// MaxMessageSize is the maximum allowed message size
	MaxMessageSize = 256 * 1024 * 1024 // 256MB

	// MaxDataSize is the maximum allowed data payload size
	MaxDataSize = MaxMessageSize - MessageHeaderSize
)

// MessageCodec handles message encoding and decoding
type MessageCodec interface {
	// Encode encodes a message to bytes
	Encode(msg *Message) ([]byte, error)

	// Decode decodes bytes to a message
	Decode(data []byte) (*Message, error)

	// DecodeHeader decodes the header and returns the payload length
	DecodeHeader(data []byte) (*Message, int, error)
}

// BinaryMessageCodec encodes the header big-endian:
// type(4) sequence(4) session(8) length(4)
type BinaryMessageCodec struct{}

// NewBinaryMessageCodec creates a new binary message codec
func NewBinaryMessageCodec() *BinaryMessageCodec {
	return &BinaryMessageCodec{}
}

// Encode encodes a message to binary format
func (c *BinaryMessageCodec) Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	dataLen := len(msg.Data)
	if dataLen > MaxDataSize {
		return nil, fmt.Errorf("message data too large: %d bytes (max %d)", dataLen, MaxDataSize)
	}

	buf := make([]byte, MessageHeaderSize+dataLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msg.Type))
	binary.BigEndian.PutUint32(buf[4:8], msg.Sequence)
	binary.BigEndian.PutUint64(buf[8:16], msg.Session)
	binary.BigEndian.PutUint32(buf[16:20], uint32(dataLen))
	copy(buf[MessageHeaderSize:], msg.Data)

	return buf, nil
}

// Decode decodes binary data to a message
func (c *BinaryMessageCodec) Decode(data []byte) (*Message, error) {
	msg, dataLen, err := c.DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	if len(data) < MessageHeaderSize+dataLen {
		return nil, fmt.Errorf("data too short for message: expected %d, got %d",
			MessageHeaderSize+dataLen, len(data))
	}

	if dataLen > 0 {
		msg.Data = make([]byte, dataLen)
		copy(msg.Data, data[MessageHeaderSize:MessageHeaderSize+dataLen])
	}

	return msg, nil
}

// DecodeHeader decodes only the message header
func (c *BinaryMessageCodec) DecodeHeader(data []byte) (*Message, int, error) {
	if len(data) < MessageHeaderSize {
		return nil, 0, fmt.Errorf("data too short for message header: %d bytes", len(data))
	}

	msg := &Message{
		Type:     MessageType(binary.BigEndian.Uint32(data[0:4])),
		Sequence: binary.BigEndian.Uint32(data[4:8]),
		Session:  binary.BigEndian.Uint64(data[8:16]),
	}

	dataLen := binary.BigEndian.Uint32(data[16:20])
	if dataLen > MaxDataSize {
		return nil, 0, fmt.Errorf("message data too large: %d bytes (max %d)", dataLen, MaxDataSize)
	}

	return msg, int(dataLen), nil
}
