package document

import (
	"errors"
	"testing"
)

func TestEditAndRead(t *testing.T) {
	doc, err := New()
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	defer doc.Destroy()

	if err := doc.SetText("a quiet opening scene"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if err := doc.InsertText(2, "very "); err != nil {
		t.Fatalf("insert text: %v", err)
	}
	if err := doc.DeleteText(0, 2); err != nil {
		t.Fatalf("delete text: %v", err)
	}

	got, err := doc.Text()
	if err != nil {
		t.Fatalf("read text: %v", err)
	}
	if got != "very quiet opening scene" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestListenersSeeLocalAndRemoteUpdates(t *testing.T) {
	doc, err := New()
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	defer doc.Destroy()

	var local, remote int
	unsubscribe := doc.Subscribe(func(update []byte, isRemote bool) {
		if len(update) == 0 {
			t.Fatal("empty update delivered")
		}
		if isRemote {
			remote++
		} else {
			local++
		}
	})

	if err := doc.SetText("draft"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if local != 1 || remote != 0 {
		t.Fatalf("expected one local update, got local=%d remote=%d", local, remote)
	}

	other, err := New()
	if err != nil {
		t.Fatalf("new peer document: %v", err)
	}
	defer other.Destroy()
	if err := other.SetText("peer draft"); err != nil {
		t.Fatalf("peer set text: %v", err)
	}
	state, err := other.Save()
	if err != nil {
		t.Fatalf("peer save: %v", err)
	}
	if err := doc.ApplyUpdate(state); err != nil {
		t.Fatalf("apply peer state: %v", err)
	}
	if remote != 1 {
		t.Fatalf("expected one remote update, got %d", remote)
	}

	unsubscribe()
	if err := doc.SetText("after unsubscribe"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	if local != 1 {
		t.Fatalf("listener fired after unsubscribe: local=%d", local)
	}
}

func TestConcurrentEditsMerge(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("new document a: %v", err)
	}
	defer a.Destroy()
	b, err := New()
	if err != nil {
		t.Fatalf("new document b: %v", err)
	}
	defer b.Destroy()

	var fromA, fromB [][]byte
	a.Subscribe(func(update []byte, remote bool) {
		if !remote {
			fromA = append(fromA, update)
		}
	})
	b.Subscribe(func(update []byte, remote bool) {
		if !remote {
			fromB = append(fromB, update)
		}
	})

	if err := a.SetText("shared"); err != nil {
		t.Fatalf("a set text: %v", err)
	}
	for _, u := range fromA {
		if err := b.ApplyUpdate(u); err != nil {
			t.Fatalf("b apply: %v", err)
		}
	}
	fromA = nil

	if err := a.InsertText(0, "left "); err != nil {
		t.Fatalf("a insert: %v", err)
	}
	if err := b.InsertText(6, " right"); err != nil {
		t.Fatalf("b insert: %v", err)
	}

	// Cross-apply in opposite orders; the merge must commute.
	for _, u := range fromA {
		if err := b.ApplyUpdate(u); err != nil {
			t.Fatalf("b apply: %v", err)
		}
	}
	for _, u := range fromB {
		if err := a.ApplyUpdate(u); err != nil {
			t.Fatalf("a apply: %v", err)
		}
	}

	ta, err := a.Text()
	if err != nil {
		t.Fatalf("a text: %v", err)
	}
	tb, err := b.Text()
	if err != nil {
		t.Fatalf("b text: %v", err)
	}
	if ta != tb {
		t.Fatalf("replicas diverged: %q vs %q", ta, tb)
	}
}

func TestRestoreAssignsFreshReplicaID(t *testing.T) {
	doc, err := New()
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	defer doc.Destroy()
	if err := doc.SetText("saved state"); err != nil {
		t.Fatalf("set text: %v", err)
	}
	state, err := doc.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, err := Restore(state)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	defer restored.Destroy()

	text, err := restored.Text()
	if err != nil {
		t.Fatalf("restored text: %v", err)
	}
	if text != "saved state" {
		t.Fatalf("unexpected restored text %q", text)
	}
	if restored.ReplicaID() == doc.ReplicaID() {
		t.Fatal("restored document reused the original replica id")
	}
}

func TestDestroyedOperationsFail(t *testing.T) {
	doc, err := New()
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	doc.Destroy()
	doc.Destroy()

	if !doc.Destroyed() {
		t.Fatal("expected destroyed")
	}
	if _, err := doc.Save(); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("save after destroy: %v", err)
	}
	if err := doc.SetText("x"); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("edit after destroy: %v", err)
	}
	if err := doc.ApplyUpdate([]byte{1}); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("apply after destroy: %v", err)
	}
}
