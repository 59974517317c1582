package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/agentworkforce/relaycollab/internal/ot"
)

type Type string

const (
	TypeUserJoined    Type = "user_joined"
	TypeUserLeft      Type = "user_left"
	TypeCursorMove    Type = "cursor_move"
	TypeContentUpdate Type = "content_update"
	TypeOperation     Type = "operation"
	TypeOperationAck  Type = "operation_ack"
	TypeSyncRequest   Type = "sync_request"
	TypeSyncResponse  Type = "sync_response"
	TypeError         Type = "error"
)

// ClientOriginated reports whether clients are allowed to send t.
func (t Type) ClientOriginated() bool {
	switch t {
	case TypeCursorMove, TypeContentUpdate, TypeOperation, TypeSyncRequest:
		return true
	default:
		return false
	}
}

// Message is one frame of the collaboration protocol. Which fields are
// meaningful depends on Type; encoding emits exactly the fields of the
// variant.
type Message struct {
	Type       Type
	UserID     string
	RoomID     string
	Position   *collab.CursorPosition
	Content    string
	Operation  *ot.Operation
	Version    uint64
	Operations []ot.Record
	Cursors    map[string]collab.CursorPosition
	Code       string
	Detail     string
}

func UserJoined(user, room string) Message {
	return Message{Type: TypeUserJoined, UserID: user, RoomID: room}
}

func UserLeft(user, room string) Message {
	return Message{Type: TypeUserLeft, UserID: user, RoomID: room}
}

func CursorMove(user, room string, position collab.CursorPosition) Message {
	return Message{Type: TypeCursorMove, UserID: user, RoomID: room, Position: &position}
}

func ContentUpdate(user, room, content string) Message {
	return Message{Type: TypeContentUpdate, UserID: user, RoomID: room, Content: content}
}

func OperationMessage(user, room string, op ot.Operation, version uint64) Message {
	return Message{Type: TypeOperation, UserID: user, RoomID: room, Operation: &op, Version: version}
}

func OperationAck(user, room string, op ot.Operation, version uint64) Message {
	return Message{Type: TypeOperationAck, UserID: user, RoomID: room, Operation: &op, Version: version}
}

func SyncRequest(user, room string, version uint64) Message {
	return Message{Type: TypeSyncRequest, UserID: user, RoomID: room, Version: version}
}

func SyncResponse(room, content string, version uint64, operations []ot.Record, cursors map[string]collab.CursorPosition) Message {
	return Message{Type: TypeSyncResponse, RoomID: room, Content: content, Version: version, Operations: operations, Cursors: cursors}
}

func ErrorMessage(room, code, detail string) Message {
	return Message{Type: TypeError, RoomID: room, Code: code, Detail: detail}
}

type presenceFrame struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

type cursorFrame struct {
	Type     Type                  `json:"type"`
	UserID   string                `json:"user_id"`
	RoomID   string                `json:"room_id"`
	Position collab.CursorPosition `json:"position"`
}

type contentFrame struct {
	Type    Type   `json:"type"`
	UserID  string `json:"user_id"`
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

type operationFrame struct {
	Type      Type         `json:"type"`
	UserID    string       `json:"user_id"`
	RoomID    string       `json:"room_id"`
	Operation ot.Operation `json:"operation"`
	Version   uint64       `json:"version"`
}

type syncRequestFrame struct {
	Type    Type   `json:"type"`
	UserID  string `json:"user_id"`
	RoomID  string `json:"room_id"`
	Version uint64 `json:"version"`
}

type syncResponseFrame struct {
	Type       Type                             `json:"type"`
	RoomID     string                           `json:"room_id"`
	Content    string                           `json:"content"`
	Version    uint64                           `json:"version"`
	Operations []ot.Record                      `json:"operations"`
	Cursors    map[string]collab.CursorPosition `json:"cursors,omitempty"`
}

type errorFrame struct {
	Type    Type   `json:"type"`
	RoomID  string `json:"room_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeUserJoined, TypeUserLeft:
		return json.Marshal(presenceFrame{Type: m.Type, UserID: m.UserID, RoomID: m.RoomID})
	case TypeCursorMove:
		if m.Position == nil {
			return nil, fmt.Errorf("%w: cursor_move without position", ErrMalformed)
		}
		return json.Marshal(cursorFrame{Type: m.Type, UserID: m.UserID, RoomID: m.RoomID, Position: *m.Position})
	case TypeContentUpdate:
		return json.Marshal(contentFrame{Type: m.Type, UserID: m.UserID, RoomID: m.RoomID, Content: m.Content})
	case TypeOperation, TypeOperationAck:
		if m.Operation == nil {
			return nil, fmt.Errorf("%w: %s without operation", ErrMalformed, m.Type)
		}
		return json.Marshal(operationFrame{Type: m.Type, UserID: m.UserID, RoomID: m.RoomID, Operation: *m.Operation, Version: m.Version})
	case TypeSyncRequest:
		return json.Marshal(syncRequestFrame{Type: m.Type, UserID: m.UserID, RoomID: m.RoomID, Version: m.Version})
	case TypeSyncResponse:
		operations := m.Operations
		if operations == nil {
			operations = []ot.Record{}
		}
		return json.Marshal(syncResponseFrame{Type: m.Type, RoomID: m.RoomID, Content: m.Content, Version: m.Version, Operations: operations, Cursors: m.Cursors})
	case TypeError:
		return json.Marshal(errorFrame{Type: m.Type, RoomID: m.RoomID, Code: m.Code, Message: m.Detail})
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, m.Type)
	}
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// MustEncode is for variants built from server state, which always encode.
func MustEncode(m Message) []byte {
	data, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return data
}

type inboundFrame struct {
	Type       Type                             `json:"type"`
	UserID     string                           `json:"user_id"`
	RoomID     string                           `json:"room_id"`
	Position   *collab.CursorPosition           `json:"position"`
	Content    string                           `json:"content"`
	Operation  *ot.Operation                    `json:"operation"`
	Version    uint64                           `json:"version"`
	Operations []ot.Record                      `json:"operations"`
	Cursors    map[string]collab.CursorPosition `json:"cursors"`
	Code       string                           `json:"code"`
	Message    string                           `json:"message"`
}

// Decode validates data against the frame schema and decodes it. Every
// failure wraps ErrMalformed.
func Decode(data []byte) (Message, error) {
	if err := validateFrame(data); err != nil {
		return Message{}, err
	}
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Message{
		Type:       frame.Type,
		UserID:     frame.UserID,
		RoomID:     frame.RoomID,
		Position:   frame.Position,
		Content:    frame.Content,
		Operation:  frame.Operation,
		Version:    frame.Version,
		Operations: frame.Operations,
		Cursors:    frame.Cursors,
		Code:       frame.Code,
		Detail:     frame.Message,
	}, nil
}
