package relay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/scene-collab-engine/internal/transport"
)

func startFanout(t *testing.T, mr *miniredis.Miniredis, registry *RoomRegistry) *RedisFanout {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := NewRedisFanout(client, registry, zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.Start(ctx)
	return f
}

func TestFanoutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	registryA := NewRoomRegistry()
	registryB := NewRoomRegistry()
	fanoutA := startFanout(t, mr, registryA)
	startFanout(t, mr, registryB)

	remote := newTestMember("replica-remote")
	registryB.Register("room-1", remote)

	// Give the subscriber loops time to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	frame := transport.Frame{Type: transport.FrameUpdate, Room: "room-1", Replica: "replica-origin", Payload: []byte{1, 2, 3}}
	if err := fanoutA.Publish("room-1", frame); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-remote.send:
		decoded, err := transport.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode relayed frame: %v", err)
		}
		if decoded.Type != transport.FrameUpdate || decoded.Replica != "replica-origin" {
			t.Fatalf("unexpected relayed frame %+v", decoded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame never crossed instances")
	}
}

func TestFanoutIgnoresOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)

	registry := NewRoomRegistry()
	fanout := startFanout(t, mr, registry)

	local := newTestMember("replica-local")
	registry.Register("room-1", local)

	time.Sleep(50 * time.Millisecond)

	frame := transport.Frame{Type: transport.FrameUpdate, Room: "room-1", Replica: "replica-other"}
	if err := fanout.Publish("room-1", frame); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-local.send:
		t.Fatal("instance rebroadcast its own fanout message")
	case <-time.After(200 * time.Millisecond):
	}
}
