// Package idempotency guards event consumers against duplicate deliveries.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the Redis surface the guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager tracks processed event IDs per consumer using Redis SETNX with a
// TTL. Keys follow the `bf:idempotency:evt:processed:<consumer>:<event_id>`
// pattern.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager builds an idempotency guard that marks events as processed for
// the given TTL.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed returns true if the event has already been processed
// and otherwise marks it as processed with the configured TTL.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete removes the processed marker so a failed handler can retry.
func (m *Manager) Delete(ctx context.Context, consumer, eventID string) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer, eventID string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, eventID), nil
}
