// Package cartstore persists cart documents in Redis and fans out changes
// over pub/sub so every session of the same account converges.
package cartstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bytefrontng/bytefront-backend/internal/cartsync"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	redisclient "github.com/bytefrontng/bytefront-backend/pkg/redis"
)

// Carts outlive sessions; the TTL only reaps accounts that never come back.
const documentTTL = 90 * 24 * time.Hour

type cartDocument struct {
	Rev   int64               `json:"rev"`
	Items []cartsync.LineItem `json:"items"`
}

type cartRedis interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channel string) (*goredis.PubSub, error)
	CartKey(identityID string) string
	CartRevKey(identityID string) string
	CartChannel(identityID string) string
}

// Store implements cartsync.Store on top of the shared Redis client. Every
// write bumps a per-account revision counter and publishes the new document
// on the account's cart channel.
type Store struct {
	client cartRedis
	logg   *logger.Logger
}

func NewStore(client *redisclient.Client, logg *logger.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{client: client, logg: logg}, nil
}

func (s *Store) Read(ctx context.Context, identityID string) (cartsync.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.client.CartKey(identityID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return cartsync.Snapshot{}, cartsync.ErrNotFound
		}
		return cartsync.Snapshot{}, fmt.Errorf("reading cart document: %w", err)
	}
	return decodeDocument([]byte(raw))
}

func (s *Store) Write(ctx context.Context, identityID string, items []cartsync.LineItem) (int64, error) {
	rev, err := s.client.Incr(ctx, s.client.CartRevKey(identityID))
	if err != nil {
		return 0, fmt.Errorf("assigning cart revision: %w", err)
	}

	doc := cartDocument{Rev: rev, Items: items}
	if doc.Items == nil {
		doc.Items = []cartsync.LineItem{}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encoding cart document: %w", err)
	}

	if err := s.client.Set(ctx, s.client.CartKey(identityID), payload, documentTTL); err != nil {
		return 0, fmt.Errorf("writing cart document: %w", err)
	}

	// Notification is best-effort; subscribers converge on the next write.
	if err := s.client.Publish(ctx, s.client.CartChannel(identityID), payload); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"identity_id": identityID,
			"error":       err.Error(),
		})
		s.logg.Warn(logCtx, "cart change publish failed")
	}
	return rev, nil
}

func (s *Store) Subscribe(ctx context.Context, identityID string, fn func(cartsync.Snapshot)) (func(), error) {
	pubsub, err := s.client.Subscribe(ctx, s.client.CartChannel(identityID))
	if err != nil {
		return nil, fmt.Errorf("subscribing to cart channel: %w", err)
	}

	var stopped atomic.Bool
	go s.consume(identityID, pubsub, &stopped, fn)

	return func() {
		stopped.Store(true)
		_ = pubsub.Close()
	}, nil
}

func (s *Store) consume(identityID string, pubsub *goredis.PubSub, stopped *atomic.Bool, fn func(cartsync.Snapshot)) {
	for msg := range pubsub.Channel() {
		if stopped.Load() {
			return
		}
		snap, err := decodeDocument([]byte(msg.Payload))
		if err != nil {
			logCtx := s.logg.WithFields(context.Background(), map[string]any{
				"identity_id": identityID,
				"error":       err.Error(),
			})
			s.logg.Warn(logCtx, "dropping malformed cart notification")
			continue
		}
		fn(snap)
	}
}

func decodeDocument(raw []byte) (cartsync.Snapshot, error) {
	var doc cartDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cartsync.Snapshot{}, fmt.Errorf("decoding cart document: %w", err)
	}
	return cartsync.Snapshot{Rev: doc.Rev, Items: doc.Items}, nil
}
