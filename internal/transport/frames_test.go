package transport

import (
	"testing"

	"github.com/example/scene-collab-engine/internal/types"
)

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{
		ID:      "frame-1",
		Type:    FrameUpdate,
		Room:    "app-p-s",
		Replica: "replica-a",
		User:    &types.UserInfo{Name: "Ada", Color: "#2a9d8f"},
		Peers:   []string{"replica-a", "replica-b"},
		Payload: []byte{0x01, 0x02, 0x03},
	}

	data, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.ID != in.ID || out.Type != in.Type || out.Room != in.Room || out.Replica != in.Replica {
		t.Fatalf("envelope mismatch: %+v", out)
	}
	if out.User == nil || out.User.Name != "Ada" || out.User.Color != "#2a9d8f" {
		t.Fatalf("user mismatch: %+v", out.User)
	}
	if len(out.Peers) != 2 || out.Peers[1] != "replica-b" {
		t.Fatalf("peers mismatch: %v", out.Peers)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Fatalf("payload mismatch: %v", out.Payload)
	}
}

func TestDecodeFrameRejectsMissingType(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"room":"r"}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
