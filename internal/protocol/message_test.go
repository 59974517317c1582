package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/agentworkforce/relaycollab/internal/ot"
)

func TestEncodeEmitsVariantFieldsOnly(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "user joined",
			msg:  UserJoined("user_1", "room_1"),
			want: `{"type":"user_joined","user_id":"user_1","room_id":"room_1"}`,
		},
		{
			name: "operation ack keeps zero version",
			msg:  OperationAck("user_1", "room_1", ot.Insert(0, "hi"), 0),
			want: `{"type":"operation_ack","user_id":"user_1","room_id":"room_1","operation":{"type":"insert","position":0,"text":"hi"},"version":0}`,
		},
		{
			name: "empty sync response",
			msg:  SyncResponse("room_1", "", 0, nil, nil),
			want: `{"type":"sync_response","room_id":"room_1","content":"","version":0,"operations":[]}`,
		},
		{
			name: "error",
			msg:  ErrorMessage("room_1", "out_of_bounds", "operation out of bounds"),
			want: `{"type":"error","room_id":"room_1","code":"out_of_bounds","message":"operation out of bounds"}`,
		},
	}
	for _, tc := range cases {
		data, err := Encode(tc.msg)
		if err != nil {
			t.Fatalf("%s: encode failed: %v", tc.name, err)
		}
		if string(data) != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, data)
		}
	}
}

func TestEncodeCursorMoveWithSelection(t *testing.T) {
	selection := [2]uint32{1, 2}
	data, err := Encode(CursorMove("user_1", "room_1", collab.CursorPosition{Line: 3, Column: 4, SelectionStart: &selection}))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"type":"cursor_move","user_id":"user_1","room_id":"room_1","position":{"line":3,"column":4,"selection_start":[1,2]}}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestEncodeRejectsIncompleteVariants(t *testing.T) {
	for _, msg := range []Message{
		{Type: TypeCursorMove, RoomID: "room_1"},
		{Type: TypeOperation, RoomID: "room_1"},
		{Type: "presence"},
	} {
		if _, err := Encode(msg); err == nil {
			t.Fatalf("expected encode of %+v to fail", msg)
		}
	}
}

func TestDecodeClientFrames(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"operation","room_id":"room_1","operation":{"type":"delete","position":6,"length":5},"version":1}`))
	if err != nil {
		t.Fatalf("decode operation failed: %v", err)
	}
	if msg.Type != TypeOperation || msg.Operation == nil || *msg.Operation != ot.Delete(6, 5) || msg.Version != 1 {
		t.Fatalf("unexpected decoded operation %+v", msg)
	}

	msg, err = Decode([]byte(`{"type":"cursor_move","user_id":"user_1","room_id":"room_1","position":{"line":2,"column":7}}`))
	if err != nil {
		t.Fatalf("decode cursor failed: %v", err)
	}
	if msg.Position == nil || msg.Position.Line != 2 || msg.Position.SelectionStart != nil {
		t.Fatalf("unexpected cursor %+v", msg.Position)
	}

	msg, err = Decode([]byte(`{"type":"sync_request","room_id":"room_1","version":0}`))
	if err != nil || msg.Type != TypeSyncRequest || !msg.Type.ClientOriginated() {
		t.Fatalf("decode sync request failed: %+v err=%v", msg, err)
	}
}

func TestDecodeRoundTripsServerFrames(t *testing.T) {
	records := []ot.Record{{Operation: ot.Insert(0, "hello"), Version: 1, ClientID: "s1", Timestamp: 1700000000000}}
	cursors := map[string]collab.CursorPosition{"user_1": {Line: 1, Column: 2}}
	data := MustEncode(SyncResponse("room_1", "hello", 1, records, cursors))

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Content != "hello" || msg.Version != 1 || len(msg.Operations) != 1 || msg.Operations[0].Operation != ot.Insert(0, "hello") {
		t.Fatalf("unexpected sync response %+v", msg)
	}
	if msg.Cursors["user_1"].Column != 2 {
		t.Fatalf("expected cursors to survive, got %+v", msg.Cursors)
	}
	if msg.Type.ClientOriginated() {
		t.Fatalf("sync_response is server-only")
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"type":`,
		"unknown type":       `{"type":"presence","room_id":"room_1"}`,
		"missing type":       `{"room_id":"room_1"}`,
		"missing operation":  `{"type":"operation","room_id":"room_1","version":0}`,
		"negative position":  `{"type":"operation","room_id":"room_1","operation":{"type":"insert","position":-1,"text":"x"},"version":0}`,
		"unknown op type":    `{"type":"operation","room_id":"room_1","operation":{"type":"move","position":0},"version":0}`,
		"fractional version": `{"type":"sync_request","room_id":"room_1","version":1.5}`,
		"bad selection":      `{"type":"cursor_move","room_id":"room_1","position":{"line":1,"column":1,"selection_start":[1]}}`,
		"content not string": `{"type":"content_update","room_id":"room_1","content":7}`,
	}
	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestFrameSchemaIsValidJSON(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal(frameSchemaJSON, &doc); err != nil {
		t.Fatalf("schema is not valid json: %v", err)
	}
	if _, err := compiledFrameSchema(); err != nil {
		t.Fatalf("schema does not compile: %v", err)
	}
	if !strings.Contains(string(frameSchemaJSON), `"sync_response"`) {
		t.Fatalf("schema must list every frame type")
	}
}
