package types

import (
	"testing"
	"time"
)

func TestDeriveRoomIDDeterministic(t *testing.T) {
	first := DeriveRoomID("", "my-project", "my-scene")
	if first != "app-my-project-my-scene" {
		t.Fatalf("unexpected room id %q", first)
	}
	if again := DeriveRoomID("", "my-project", "my-scene"); again != first {
		t.Fatalf("room id not stable: %q vs %q", first, again)
	}
	if other := DeriveRoomID("", "my-project", "scene-2"); other == first {
		t.Fatalf("different scene produced the same room id %q", other)
	}
	if other := DeriveRoomID("", "other-project", "my-scene"); other == first {
		t.Fatalf("different project produced the same room id %q", other)
	}
}

func TestDeriveRoomIDCustomNamespace(t *testing.T) {
	got := DeriveRoomID("staging", "p", "s")
	if got != "staging-p-s" {
		t.Fatalf("unexpected room id %q", got)
	}
}

func TestCheckpointBinaryRoundTrip(t *testing.T) {
	in := Checkpoint{
		SceneID:   "scene-1",
		ProjectID: "project-1",
		Update:    []byte{0x00, 0x01, 0xfe, 0xff},
		SavedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Checkpoint
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.SceneID != in.SceneID || out.ProjectID != in.ProjectID {
		t.Fatalf("identity mismatch: %+v", out)
	}
	if string(out.Update) != string(in.Update) {
		t.Fatalf("update bytes mismatch: %v", out.Update)
	}
	if !out.SavedAt.Equal(in.SavedAt) {
		t.Fatalf("saved_at mismatch: %v", out.SavedAt)
	}
}

func TestCheckpointMarshalFillsSavedAt(t *testing.T) {
	data, err := Checkpoint{SceneID: "s", ProjectID: "p"}.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Checkpoint
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.SavedAt.IsZero() {
		t.Fatal("expected saved_at to be populated")
	}
}

func TestRandomColorFromPalette(t *testing.T) {
	for i := 0; i < 32; i++ {
		color := RandomColor()
		found := false
		for _, p := range Palette {
			if p == color {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("color %q not in palette", color)
		}
	}
}
