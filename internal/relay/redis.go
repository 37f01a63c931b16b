package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/scene-collab-engine/internal/transport"
	"github.com/example/scene-collab-engine/internal/types"
)

const (
	defaultTopicPrefix = "room:"
	defaultDedupeTTL   = 2 * time.Minute
	maxBackoffDelay    = 30 * time.Second
)

type fanoutMessage struct {
	Room       string          `json:"room"`
	FrameID    string          `json:"frame_id"`
	Origin     string          `json:"origin"`
	Frame      transport.Frame `json:"frame"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// RedisFanout propagates room frames between relay instances through Redis
// Pub/Sub so members of the same room can land on different servers.
type RedisFanout struct {
	client   *redis.Client
	registry *RoomRegistry
	logger   zerolog.Logger

	instanceID  string
	topicPrefix string
	dedupeTTL   time.Duration

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewRedisFanout constructs a fanout backed by Redis Pub/Sub.
func NewRedisFanout(client *redis.Client, registry *RoomRegistry, logger zerolog.Logger) *RedisFanout {
	return &RedisFanout{
		client:      client,
		registry:    registry,
		logger:      logger,
		instanceID:  uuid.NewString(),
		topicPrefix: defaultTopicPrefix,
		dedupeTTL:   defaultDedupeTTL,
		seen:        make(map[string]time.Time),
	}
}

// Publish implements Fanout.
func (f *RedisFanout) Publish(room types.RoomID, frame transport.Frame) error {
	if f == nil || f.client == nil {
		return errors.New("nil fanout")
	}

	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	msg := fanoutMessage{
		Room:       string(room),
		FrameID:    frame.ID,
		Origin:     f.instanceID,
		Frame:      frame,
		EnqueuedAt: time.Now().UTC().UnixNano(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode fanout payload: %w", err)
	}

	f.remember(msg.FrameID)
	return f.client.Publish(context.Background(), f.topic(room), encoded).Err()
}

// Start begins consuming fanout messages and dispatching them to local room
// members. Interrupted subscriptions are retried with capped exponential
// backoff.
func (f *RedisFanout) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *RedisFanout) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := f.client.PSubscribe(ctx, fmt.Sprintf("%s*", f.topicPrefix))
		if err := f.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Warn().Err(err).Dur("backoff", backoff).Msg("fanout subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			if backoff *= 2; backoff > maxBackoffDelay {
				backoff = maxBackoffDelay
			}
		}
	}
}

func (f *RedisFanout) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := f.process(msg); err != nil {
				f.logger.Warn().Err(err).Msg("failed to process fanout message")
			}
		}
	}
}

func (f *RedisFanout) process(msg *redis.Message) error {
	var payload fanoutMessage
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.Room == "" || payload.FrameID == "" {
		return errors.New("incomplete payload")
	}
	if payload.Origin == f.instanceID || f.isDuplicate(payload.FrameID) {
		return nil
	}

	data, err := transport.EncodeFrame(payload.Frame)
	if err != nil {
		return err
	}
	f.registry.Broadcast(types.RoomID(payload.Room), data, payload.Frame.Replica)
	return nil
}

func (f *RedisFanout) topic(room types.RoomID) string {
	return fmt.Sprintf("%s%s", f.topicPrefix, room)
}

func (f *RedisFanout) isDuplicate(frameID string) bool {
	f.seenMu.Lock()
	defer f.seenMu.Unlock()

	if ts, ok := f.seen[frameID]; ok && time.Since(ts) < f.dedupeTTL {
		return true
	}
	f.rememberLocked(frameID)
	return false
}

func (f *RedisFanout) remember(frameID string) {
	f.seenMu.Lock()
	defer f.seenMu.Unlock()
	f.rememberLocked(frameID)
}

func (f *RedisFanout) rememberLocked(frameID string) {
	f.seen[frameID] = time.Now()
	cutoff := time.Now().Add(-f.dedupeTTL)
	for k, ts := range f.seen {
		if ts.Before(cutoff) {
			delete(f.seen, k)
		}
	}
}
