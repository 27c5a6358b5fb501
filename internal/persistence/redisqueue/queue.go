// Package redisqueue implements the coordinator queue on Redis: a list of
// message ids in enqueue order, one JSON value per message, and a per-message
// lease key whose TTL is the visibility timeout. Unlike the file backend it
// is safe for multiple worker processes.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratapipe/strata/internal/coordinator"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
)

var _ coordinator.QueueStore = (*Store)(nil)

const DefaultVisibilityTimeout = 5 * time.Minute

// Config selects the Redis endpoint and key namespace.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Namespace prefixes every key; defaults to "strata".
	Namespace string
	// VisibilityTimeout is the lease duration; defaults to
	// DefaultVisibilityTimeout.
	VisibilityTimeout time.Duration
}

// Store is a Redis-backed queue with visibility leases.
type Store struct {
	client     redis.UniversalClient
	ns         string
	visibility time.Duration
}

func New(cfg Config) *Store {
	if cfg.Namespace == "" {
		cfg.Namespace = "strata"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, ns: cfg.Namespace, visibility: cfg.VisibilityTimeout}
}

// NewWithClient wires an existing client, mainly for tests.
func NewWithClient(client redis.UniversalClient, namespace string, visibility time.Duration) *Store {
	if namespace == "" {
		namespace = "strata"
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Store{client: client, ns: namespace, visibility: visibility}
}

func (s *Store) key(parts ...string) string {
	k := s.ns + ":queue"
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) listKey() string           { return s.key("items") }
func (s *Store) msgKey(id string) string   { return s.key("msg", id) }
func (s *Store) leaseKey(id string) string { return s.key("lease", id) }
func (s *Store) deadKey() string           { return s.key("dead") }

// Enqueue implements coordinator.QueueStore.
func (s *Store) Enqueue(ctx context.Context, msg coordinator.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item %s: %w", msg.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.msgKey(msg.ID), data, 0)
	pipe.RPush(ctx, s.listKey(), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue item %s: %w", msg.ID, err)
	}

	logger.Info(ctx, "Enqueued stage message",
		tag.Queue(s.ns),
		tag.MessageID(msg.ID),
		tag.Stage(string(msg.Stage)),
		tag.RunID(msg.RunID))
	return nil
}

// Dequeue implements coordinator.QueueStore. It walks the list from the
// oldest entry and claims the first message whose lease key it can set; the
// SET NX makes the claim atomic across competing workers.
func (s *Store) Dequeue(ctx context.Context) (*coordinator.Message, error) {
	ids, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	for _, id := range ids {
		claimed, err := s.client.SetNX(ctx, s.leaseKey(id), "1", s.visibility).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to lease item %s: %w", id, err)
		}
		if !claimed {
			continue
		}

		data, err := s.client.Get(ctx, s.msgKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// The id outlived its message; drop the orphan and move on.
			s.client.LRem(ctx, s.listKey(), 1, id)
			s.client.Del(ctx, s.leaseKey(id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read item %s: %w", id, err)
		}

		var msg coordinator.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse item %s: %w", id, err)
		}
		msg.Deliveries++
		updated, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item %s: %w", id, err)
		}
		if err := s.client.Set(ctx, s.msgKey(id), updated, 0).Err(); err != nil {
			return nil, fmt.Errorf("failed to update item %s: %w", id, err)
		}

		logger.Debug(ctx, "Leased stage message",
			tag.MessageID(msg.ID),
			tag.Deliveries(msg.Deliveries))
		return &msg, nil
	}

	return nil, coordinator.ErrQueueEmpty
}

// Ack implements coordinator.QueueStore.
func (s *Store) Ack(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, s.listKey(), 1, id)
	pipe.Del(ctx, s.msgKey(id))
	pipe.Del(ctx, s.leaseKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack item %s: %w", id, err)
	}
	return nil
}

// DeadLetter implements coordinator.QueueStore. The message moves to the
// dead list; its value key is kept so the payload stays inspectable.
func (s *Store) DeadLetter(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, s.listKey(), 1, id)
	pipe.RPush(ctx, s.deadKey(), id)
	pipe.Del(ctx, s.leaseKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter item %s: %w", id, err)
	}

	logger.Warn(ctx, "Dead-lettered stage message", tag.MessageID(id))
	return nil
}

// Len implements coordinator.QueueStore.
func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.listKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
