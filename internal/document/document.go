package document

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/example/scene-collab-engine/internal/types"
)

// ErrDestroyed is returned by every operation once Destroy has run.
var ErrDestroyed = errors.New("document destroyed")

// contentField is the document key holding the scene body text.
const contentField = "content"

// UpdateListener receives encoded document updates. Remote reports whether the
// update originated from a peer or store rather than a local edit; consumers
// that echo updates outward use it to avoid loops.
type UpdateListener func(update []byte, remote bool)

// Document wraps a replicated automerge document. Concurrent merges commute,
// so local edits, cached state, and peer updates can be applied in any order.
type Document struct {
	mu        sync.Mutex
	doc       *automerge.Doc
	replica   types.ReplicaID
	listeners map[int]UpdateListener
	nextID    int
	destroyed bool
}

// New creates an empty document with a fresh replica identifier.
func New() (*Document, error) {
	return Restore(nil)
}

// Restore creates a document and, when saved is non-empty, loads the given
// full-state snapshot into it. A fresh replica identifier is assigned either
// way so the session never impersonates the actor that produced the snapshot.
func Restore(saved []byte) (*Document, error) {
	var doc *automerge.Doc
	if len(saved) > 0 {
		loaded, err := automerge.Load(saved)
		if err != nil {
			return nil, fmt.Errorf("load document state: %w", err)
		}
		doc = loaded
	} else {
		doc = automerge.New()
	}

	uid := uuid.New()
	actor := hex.EncodeToString(uid[:])
	if err := doc.SetActorID(actor); err != nil {
		return nil, fmt.Errorf("set actor id: %w", err)
	}

	// Prime the incremental cursor so the first SaveIncremental only carries
	// changes made after construction.
	doc.SaveIncremental()

	return &Document{
		doc:       doc,
		replica:   types.ReplicaID(actor),
		listeners: make(map[int]UpdateListener),
	}, nil
}

// ReplicaID returns the stable identifier of this editing session.
func (d *Document) ReplicaID() types.ReplicaID {
	return d.replica
}

// Subscribe registers a listener for document updates and returns a function
// that unregisters it.
func (d *Document) Subscribe(fn UpdateListener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Save encodes the full document state.
func (d *Document) Save() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return d.doc.Save(), nil
}

// ApplyUpdate merges an encoded update into the document. Both incremental
// deltas and full-state saves are accepted; the merge is commutative.
func (d *Document) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	if err := d.doc.LoadIncremental(update); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("apply update: %w", err)
	}
	// Advance the incremental cursor past the merged changes so they are not
	// re-broadcast as local edits.
	d.doc.SaveIncremental()
	listeners := d.listenerSnapshot()
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(update, true)
	}
	return nil
}

// SetText replaces the scene body.
func (d *Document) SetText(text string) error {
	return d.edit(func(t *automerge.Text) error { return t.Set(text) })
}

// InsertText inserts at the given rune position.
func (d *Document) InsertText(pos int, text string) error {
	return d.edit(func(t *automerge.Text) error { return t.Insert(pos, text) })
}

// DeleteText removes count runes starting at pos.
func (d *Document) DeleteText(pos, count int) error {
	return d.edit(func(t *automerge.Text) error { return t.Delete(pos, count) })
}

// Text returns the current scene body.
func (d *Document) Text() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return "", ErrDestroyed
	}
	return d.doc.Path(contentField).Text().Get()
}

// NewSyncState creates a transport-level sync state bound to this document.
func (d *Document) NewSyncState() (*automerge.SyncState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return automerge.NewSyncState(d.doc), nil
}

// Destroy detaches all listeners and marks the document unusable. It is
// idempotent and safe to call concurrently with other operations.
func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.listeners = make(map[int]UpdateListener)
}

// Destroyed reports whether Destroy has run.
func (d *Document) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Document) edit(fn func(*automerge.Text) error) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	if err := fn(d.doc.Path(contentField).Text()); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("edit content: %w", err)
	}
	update := d.doc.SaveIncremental()
	listeners := d.listenerSnapshot()
	d.mu.Unlock()

	if len(update) == 0 {
		return nil
	}
	for _, fn := range listeners {
		fn(update, false)
	}
	return nil
}

func (d *Document) listenerSnapshot() []UpdateListener {
	out := make([]UpdateListener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		out = append(out, fn)
	}
	return out
}
