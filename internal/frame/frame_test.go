package frame

import (
	"errors"
	"testing"
	"time"

	"github.com/praxisworks/praxis-realtime/internal/model"
)

func TestEncodeDecode_Auth(t *testing.T) {
	in := &Auth{
		Token:           "tok-123",
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      map[string]string{"app": "praxis-web", "version": "2.4.0"},
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	out, ok := f.(*Auth)
	if !ok {
		t.Fatalf("decoded %T, want *Auth", f)
	}
	if out.Token != in.Token {
		t.Errorf("Token = %q, want %q", out.Token, in.Token)
	}
	if out.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %d, want %d", out.ProtocolVersion, ProtocolVersion)
	}
	if out.ClientInfo["app"] != "praxis-web" {
		t.Errorf("ClientInfo[app] = %q, want praxis-web", out.ClientInfo["app"])
	}
}

func TestDecode_MessageAck(t *testing.T) {
	raw := `{"type":"message.ack","data":{"message_id":"m1","seq":1,"server_ts":"2024-01-01T00:00:00Z","client_id":"k1"}}`

	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	ackFrame, ok := f.(*MessageAck)
	if !ok {
		t.Fatalf("decoded %T, want *MessageAck", f)
	}

	ack, err := ackFrame.Acknowledgment()
	if err != nil {
		t.Fatalf("Acknowledgment failed: %v", err)
	}
	if ack.MessageID != "m1" {
		t.Errorf("MessageID = %q, want m1", ack.MessageID)
	}
	if ack.Seq != 1 {
		t.Errorf("Seq = %d, want 1", ack.Seq)
	}
	if ack.ClientID != "k1" {
		t.Errorf("ClientID = %q, want k1", ack.ClientID)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ack.ServerTS.Equal(want) {
		t.Errorf("ServerTS = %v, want %v", ack.ServerTS, want)
	}
}

func TestMessageAck_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ack     MessageAck
		wantErr bool
	}{
		{"valid", MessageAck{MessageID: "m1", Seq: 1, ServerTS: "2024-01-01T00:00:00Z", ClientID: "k1"}, false},
		{"empty message_id", MessageAck{Seq: 1, ServerTS: "2024-01-01T00:00:00Z"}, true},
		{"empty server_ts", MessageAck{MessageID: "m1", Seq: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ack.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadPayload) {
				t.Errorf("error %v is not ErrBadPayload", err)
			}
		})
	}
}

func TestDecode_Notification(t *testing.T) {
	ev := model.NotificationEvent{
		ID:         "n1",
		Category:   model.CategoryMessage,
		Title:      "New message",
		Body:       "You have a new message",
		EntityType: model.EntityTypeConversation,
		EntityID:   "c7",
		CreatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := Encode(FromEvent(ev))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	n, ok := f.(*Notification)
	if !ok {
		t.Fatalf("decoded %T, want *Notification", f)
	}

	got := n.Event()
	if got.ID != ev.ID || got.Category != ev.Category || got.Title != ev.Title {
		t.Errorf("Event() = %+v, want %+v", got, ev)
	}
	if got.ConversationID() != "c7" {
		t.Errorf("ConversationID() = %q, want c7", got.ConversationID())
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"presence.update","data":{}}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestDecode_BadEnvelope(t *testing.T) {
	for _, raw := range []string{`not json`, `{"data":{}}`, `[]`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrBadEnvelope) {
			t.Errorf("Decode(%q) error = %v, want ErrBadEnvelope", raw, err)
		}
	}
}

func TestDecode_BadPayload(t *testing.T) {
	_, err := Decode([]byte(`{"type":"message.ack","data":{"seq":"not-a-number"}}`))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("error = %v, want ErrBadPayload", err)
	}
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range model.Categories {
		if !c.Valid() {
			t.Errorf("Category %q should be valid", c)
		}
	}
	if model.Category("billing").Valid() {
		t.Error("Category billing should not be valid")
	}
}
