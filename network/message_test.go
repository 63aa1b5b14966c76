// Package network provides tests for message encoding/decoding
package network

import (
	"bytes"
	"testing"
)

func TestMessage(t *testing.T) {
	t.Run("NewMessage", func(t *testing.T) {
		data := []byte{0, 1, 1, 0}
		msg := NewMessage(MessageTypeHalo, data)

		if msg.Type != MessageTypeHalo {
			t.Errorf("Expected type %v, got %v", MessageTypeHalo, msg.Type)
		}
		if !bytes.Equal(msg.Data, data) {
			t.Errorf("Expected data %v, got %v", data, msg.Data)
		}
		if msg.Size() != MessageHeaderSize+len(data) {
			t.Errorf("Expected size %d, got %d", MessageHeaderSize+len(data), msg.Size())
		}
	})

	t.Run("ErrorMessage", func(t *testing.T) {
		errorMsg := NewErrorMessage("test error")
		if errorMsg.Type != MessageTypeError {
			t.Errorf("Expected error type, got %v", errorMsg.Type)
		}
		if string(errorMsg.Data) != "test error" {
			t.Errorf("Expected error data 'test error', got %s", string(errorMsg.Data))
		}
	})

	t.Run("Clone", func(t *testing.T) {
		original := &Message{Type: MessageTypeGather, Sequence: 7, Session: 42, Data: []byte{1, 2, 3}}
		clone := original.Clone()

		clone.Data[0] = 9
		if original.Data[0] != 1 {
			t.Error("Clone should not share the data slice")
		}
		if clone.Sequence != 7 || clone.Session != 42 || clone.Type != MessageTypeGather {
			t.Errorf("Clone lost header fields: %+v", clone)
		}
	})
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		mt   MessageType
		want string
	}{
		{MessageTypeHeartbeat, "heartbeat"},
		{MessageTypeHello, "hello"},
		{MessageTypeHalo, "halo"},
		{MessageTypeCensus, "census"},
		{MessageTypeRunResponse, "run_response"},
		{MessageType(999), "unknown(999)"},
	}

	for _, tt := range tests {
		if got := tt.mt.String(); got != tt.want {
			t.Errorf("MessageType(%d).String() = %q, want %q", uint32(tt.mt), got, tt.want)
		}
	}
}

func TestBinaryMessageCodec(t *testing.T) {
	codec := NewBinaryMessageCodec()

	t.Run("RoundTrip", func(t *testing.T) {
		msg := &Message{
			Type:     MessageTypeHalo,
			Sequence: 12,
			Session:  0xdeadbeef,
			Data:     []byte{0, 1, 0, 1, 1, 0},
		}

		encoded, err := codec.Encode(msg)
		if err != nil {
			t.Fatalf("Failed to encode: %v", err)
		}
		if len(encoded) != msg.Size() {
			t.Fatalf("Expected %d encoded bytes, got %d", msg.Size(), len(encoded))
		}

		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if decoded.Type != msg.Type || decoded.Sequence != msg.Sequence || decoded.Session != msg.Session {
			t.Errorf("Header mismatch: got %+v, want %+v", decoded, msg)
		}
		if !bytes.Equal(decoded.Data, msg.Data) {
			t.Errorf("Data mismatch: got %v, want %v", decoded.Data, msg.Data)
		}
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		encoded, err := codec.Encode(NewMessage(MessageTypeHello, nil))
		if err != nil {
			t.Fatalf("Failed to encode: %v", err)
		}

		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(decoded.Data) != 0 {
			t.Errorf("Expected empty payload, got %d bytes", len(decoded.Data))
		}
	})

	t.Run("ShortHeader", func(t *testing.T) {
		if _, _, err := codec.DecodeHeader(make([]byte, MessageHeaderSize-1)); err == nil {
			t.Error("Expected error for short header")
		}
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		encoded, _ := codec.Encode(NewMessage(MessageTypeResult, []byte("payload")))
		if _, err := codec.Decode(encoded[:len(encoded)-2]); err == nil {
			t.Error("Expected error for truncated payload")
		}
	})

	t.Run("NilMessage", func(t *testing.T) {
		if _, err := codec.Encode(nil); err == nil {
			t.Error("Expected error for nil message")
		}
	})
}
