package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/scene-collab-engine/internal/types"
)

// PostgresStore keeps one checkpoint row per (project, scene), overwritten on
// every save.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) PostgresOption {
	return func(s *PostgresStore) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.retryDelay = d
	}
}

// NewPostgresStore constructs a store using the provided pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, scene types.SceneID, project types.ProjectID) (*types.Checkpoint, error) {
	var ckpt types.Checkpoint
	err := s.pool.QueryRow(ctx, `
                SELECT scene_id, project_id, update_bytes, saved_at
                FROM scene_checkpoints
                WHERE project_id = $1 AND scene_id = $2
        `, project, scene).Scan(&ckpt.SceneID, &ckpt.ProjectID, &ckpt.Update, &ckpt.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		storeFailures.WithLabelValues("postgres", "load").Inc()
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &ckpt, nil
}

// Save implements Store. Transient failures are retried with an exponentially
// increasing delay.
func (s *PostgresStore) Save(ctx context.Context, scene types.SceneID, project types.ProjectID, update []byte) error {
	start := time.Now()
	err := s.retry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
                        INSERT INTO scene_checkpoints (project_id, scene_id, update_bytes, saved_at)
                        VALUES ($1, $2, $3, now())
                        ON CONFLICT (project_id, scene_id)
                        DO UPDATE SET update_bytes = EXCLUDED.update_bytes, saved_at = now()
                `, project, scene, update)
		return err
	})
	if err != nil {
		storeFailures.WithLabelValues("postgres", "save").Inc()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	storeSaveLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	return nil
}

// Has implements Store.
func (s *PostgresStore) Has(ctx context.Context, scene types.SceneID, project types.ProjectID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
                SELECT EXISTS (
                        SELECT 1 FROM scene_checkpoints WHERE project_id = $1 AND scene_id = $2
                )
        `, project, scene).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe checkpoint: %w", err)
	}
	return exists, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, scene types.SceneID, project types.ProjectID) error {
	_, err := s.pool.Exec(ctx, `
                DELETE FROM scene_checkpoints WHERE project_id = $1 AND scene_id = $2
        `, project, scene)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == s.maxRetries {
			return err
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
