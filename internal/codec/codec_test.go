package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/rickgao/livewire/internal/model"
)

func TestByName(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		binary bool
	}{
		{"", NameJSON, false},
		{NameJSON, NameJSON, false},
		{NameMsgpack, NameMsgpack, true},
		{NameCBOR, NameCBOR, true},
	}

	for _, tt := range tests {
		c, err := ByName(tt.name)
		if err != nil {
			t.Fatalf("ByName(%q) failed: %v", tt.name, err)
		}
		if c.Name() != tt.want {
			t.Errorf("ByName(%q).Name() = %q, want %q", tt.name, c.Name(), tt.want)
		}
		if c.Binary() != tt.binary {
			t.Errorf("ByName(%q).Binary() = %v, want %v", tt.name, c.Binary(), tt.binary)
		}
	}

	if _, err := ByName("protobuf"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("ByName(protobuf) error = %v, want ErrUnknownCodec", err)
	}
}

func TestCodecs_PreserveEnvelope(t *testing.T) {
	sentAt := time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC)
	env, err := model.NewEnvelope("quote", map[string]any{"symbol": "ACME", "bid": 52}, sentAt)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	env = env.WithOrigin("origin-1")

	for _, name := range []string{NameJSON, NameMsgpack, NameCBOR} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			if err != nil {
				t.Fatalf("ByName failed: %v", err)
			}

			data, err := c.Encode(env)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if got.Type != env.Type || got.Origin != env.Origin {
				t.Errorf("got %+v, want %+v", got, env)
			}
			if !got.SentAt.Equal(sentAt) {
				t.Errorf("SentAt = %v, want %v", got.SentAt, sentAt)
			}

			var payload struct {
				Symbol string `json:"symbol"`
				Bid    int    `json:"bid"`
			}
			if err := got.Decode(&payload); err != nil {
				t.Fatalf("payload decode failed: %v", err)
			}
			if payload.Symbol != "ACME" || payload.Bid != 52 {
				t.Errorf("payload = %+v", payload)
			}
		})
	}
}

func TestJSON_DecodeWireFormat(t *testing.T) {
	got, err := JSON{}.Decode([]byte(`{"type":"ping","sentAt":"2026-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Type != model.TopicPing {
		t.Errorf("Type = %q, want ping", got.Type)
	}
}

func TestJSON_DecodeErrors(t *testing.T) {
	if _, err := (JSON{}).Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := (JSON{}).Decode([]byte(`{"payload":{}}`)); !errors.Is(err, ErrMissingType) {
		t.Errorf("error = %v, want ErrMissingType", err)
	}
}
