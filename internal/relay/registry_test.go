package relay

import (
	"sort"
	"testing"
)

func newTestMember(replica string) *member {
	return &member{
		replica: replica,
		send:    make(chan []byte, 4),
		closed:  make(chan struct{}),
	}
}

func TestRegistryMembership(t *testing.T) {
	reg := NewRoomRegistry()
	a := newTestMember("replica-a")
	b := newTestMember("replica-b")

	if n := reg.Register("room-1", a); n != 1 {
		t.Fatalf("expected 1 member, got %d", n)
	}
	if n := reg.Register("room-1", b); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}

	members := reg.Members("room-1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "replica-a" || members[1] != "replica-b" {
		t.Fatalf("unexpected members %v", members)
	}

	reg.Unregister("room-1", a)
	if members := reg.Members("room-1"); len(members) != 1 || members[0] != "replica-b" {
		t.Fatalf("unexpected members after unregister %v", members)
	}

	reg.Unregister("room-1", b)
	if members := reg.Members("room-1"); len(members) != 0 {
		t.Fatalf("expected empty room, got %v", members)
	}
}

func TestBroadcastSkipsOrigin(t *testing.T) {
	reg := NewRoomRegistry()
	a := newTestMember("replica-a")
	b := newTestMember("replica-b")
	reg.Register("room-1", a)
	reg.Register("room-1", b)

	sent := reg.Broadcast("room-1", []byte("payload"), "replica-a")
	if sent != 1 {
		t.Fatalf("expected 1 delivery, got %d", sent)
	}
	select {
	case data := <-b.send:
		if string(data) != "payload" {
			t.Fatalf("unexpected payload %q", data)
		}
	default:
		t.Fatal("expected payload queued for replica-b")
	}
	select {
	case <-a.send:
		t.Fatal("origin received its own broadcast")
	default:
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	reg := NewRoomRegistry()
	m := &member{replica: "replica-a", send: make(chan []byte), closed: make(chan struct{})}
	reg.Register("room-1", m)

	// Unbuffered channel with no reader: the broadcast must not block.
	if sent := reg.Broadcast("room-1", []byte("payload"), ""); sent != 0 {
		t.Fatalf("expected 0 deliveries, got %d", sent)
	}
}

func TestBroadcastToUnknownRoom(t *testing.T) {
	reg := NewRoomRegistry()
	if sent := reg.Broadcast("no-such-room", []byte("payload"), ""); sent != 0 {
		t.Fatalf("expected 0 deliveries, got %d", sent)
	}
}
