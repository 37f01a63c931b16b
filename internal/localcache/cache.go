package localcache

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/example/scene-collab-engine/internal/document"
	"github.com/example/scene-collab-engine/internal/types"
)

const (
	stateKey                = "state"
	deltasBucket            = "deltas"
	defaultCompactThreshold = 64
)

// Options tunes cache behaviour.
type Options struct {
	// OnSynced is invoked once the stored state has been loaded into the
	// document and mirroring is active.
	OnSynced func()
	// CompactThreshold is the number of pending deltas that triggers a
	// rewrite of the bucket as a single full save.
	CompactThreshold int
}

// Cache mirrors a replicated document into on-device bbolt storage so edits
// survive process restarts and remain available offline. Each (project,
// scene) pair owns an isolated bucket within the database file.
type Cache struct {
	db     *bolt.DB
	doc    *document.Document
	bucket []byte
	logger zerolog.Logger

	compactThreshold int
	unsubscribe      func()
	closeOnce        sync.Once
}

// Open attaches a durable cache to the document. Any previously stored state
// is merged into the document before Open returns; the OnSynced callback
// fires after the load completes.
func Open(path string, project types.ProjectID, scene types.SceneID, doc *document.Document, logger zerolog.Logger, opts Options) (*Cache, error) {
	if opts.CompactThreshold <= 0 {
		opts.CompactThreshold = defaultCompactThreshold
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	c := &Cache{
		db:               db,
		doc:              doc,
		bucket:           []byte(fmt.Sprintf("%s/%s", project, scene)),
		logger:           logger,
		compactThreshold: opts.CompactThreshold,
	}

	if err := c.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	c.unsubscribe = doc.Subscribe(c.appendDelta)

	if opts.OnSynced != nil {
		opts.OnSynced()
	}
	return c, nil
}

// Close detaches the document listener and releases the database. It is
// idempotent and never panics; callers may invoke it during teardown paths
// that run more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		if err := c.db.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("cache close failed")
		}
	})
}

func (c *Cache) load() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return fmt.Errorf("create cache bucket: %w", err)
		}

		if state := b.Get([]byte(stateKey)); len(state) > 0 {
			if err := c.doc.ApplyUpdate(state); err != nil {
				return fmt.Errorf("restore cached state: %w", err)
			}
		}

		deltas := b.Bucket([]byte(deltasBucket))
		if deltas == nil {
			return nil
		}
		return deltas.ForEach(func(_, delta []byte) error {
			if err := c.doc.ApplyUpdate(delta); err != nil {
				return fmt.Errorf("restore cached delta: %w", err)
			}
			return nil
		})
	})
}

// appendDelta durably records a document update. Both local edits and remote
// updates are mirrored so the offline copy includes merged peer state.
func (c *Cache) appendDelta(update []byte, _ bool) {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return fmt.Errorf("cache bucket missing")
		}
		deltas, err := b.CreateBucketIfNotExists([]byte(deltasBucket))
		if err != nil {
			return err
		}

		seq, err := deltas.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := deltas.Put(key[:], update); err != nil {
			return err
		}

		if deltas.Stats().KeyN+1 < c.compactThreshold {
			return nil
		}
		return c.compact(b)
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
}

// compact collapses the state plus pending deltas into a single full save.
func (c *Cache) compact(b *bolt.Bucket) error {
	state, err := c.doc.Save()
	if err != nil {
		return fmt.Errorf("encode state for compaction: %w", err)
	}
	if err := b.Put([]byte(stateKey), state); err != nil {
		return err
	}
	if err := b.DeleteBucket([]byte(deltasBucket)); err != nil {
		return err
	}
	return nil
}
