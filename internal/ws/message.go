package ws

import (
	"encoding/json"
	"math"
)

// MessageType represents the type of a control message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeInput  MessageType = "input"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types
	MessageTypeOutput MessageType = "output"
	MessageTypeCwd    MessageType = "cwd"
	MessageTypeExit   MessageType = "exit"
	MessageTypePong   MessageType = "pong"
)

const (
	// MinCols and MinRows bound every resize applied to a PTY.
	MinCols = 20
	MinRows = 8

	maxDimension = math.MaxUint16
)

// ClientMessage is a decoded client frame.
type ClientMessage struct {
	Type MessageType
	Data string
	Cols float64
	Rows float64
}

// ParseClientMessage decodes a client frame. It reports false when the frame
// is not JSON, is not an object, has an unknown type, or lacks the fields its
// type requires; the caller then treats the frame as raw input. Field names
// match exactly: encoding/json struct decoding would also accept "Type" or
// "DATA".
func ParseClientMessage(raw []byte) (ClientMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ClientMessage{}, false
	}
	var typ string
	if !decodeField(fields["type"], &typ) {
		return ClientMessage{}, false
	}

	switch MessageType(typ) {
	case MessageTypeInput:
		var data string
		if !decodeField(fields["data"], &data) {
			return ClientMessage{}, false
		}
		return ClientMessage{Type: MessageTypeInput, Data: data}, true

	case MessageTypeResize:
		var cols, rows float64
		if !decodeField(fields["cols"], &cols) || !decodeField(fields["rows"], &rows) {
			return ClientMessage{}, false
		}
		return ClientMessage{Type: MessageTypeResize, Cols: cols, Rows: rows}, true

	case MessageTypePing:
		return ClientMessage{Type: MessageTypePing}, true
	}

	return ClientMessage{}, false
}

// decodeField unmarshals a present, non-null field into dst.
func decodeField(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// ClampSize floors the requested geometry and clamps it to the usable range.
// The result is (cols, rows).
func ClampSize(cols, rows float64) (uint16, uint16) {
	return clampDimension(cols, MinCols), clampDimension(rows, MinRows)
}

func clampDimension(v float64, min int) uint16 {
	f := math.Floor(v)
	if math.IsNaN(f) || f < float64(min) {
		return uint16(min)
	}
	if f > maxDimension {
		return maxDimension
	}
	return uint16(f)
}

// ServerMessage is a frame sent from the bridge to the client.
type ServerMessage struct {
	Type MessageType `json:"type"`
	Data *string     `json:"data,omitempty"`
	Path *string     `json:"path,omitempty"`
	Code *int        `json:"code,omitempty"`
}

// Output frames a chunk of shell output.
func Output(data string) ServerMessage {
	return ServerMessage{Type: MessageTypeOutput, Data: &data}
}

// Cwd frames a working directory label.
func Cwd(path string) ServerMessage {
	return ServerMessage{Type: MessageTypeCwd, Path: &path}
}

// Exit frames the shell's exit code.
func Exit(code int) ServerMessage {
	return ServerMessage{Type: MessageTypeExit, Code: &code}
}

// Pong answers a ping.
func Pong() ServerMessage {
	return ServerMessage{Type: MessageTypePong}
}

// Encode marshals the message. encoding/json escapes control characters,
// so the result never contains a raw newline.
func (m ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeServerMessage parses a server frame. Used by clients.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	var msg ServerMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}

// EncodeClientMessage marshals a client message in its wire shape.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch msg.Type {
	case MessageTypeInput:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Data string      `json:"data"`
		}{msg.Type, msg.Data})
	case MessageTypeResize:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Cols float64     `json:"cols"`
			Rows float64     `json:"rows"`
		}{msg.Type, msg.Cols, msg.Rows})
	default:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
		}{msg.Type})
	}
}
