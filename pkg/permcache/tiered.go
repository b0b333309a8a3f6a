package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DefaultInvalidationChannel is the pub/sub channel carrying L1 evictions
const DefaultInvalidationChannel = "warden:permcache:invalidate"

// invalidation is published whenever keys leave the shared store
type invalidation struct {
	Keys   []string `json:"keys,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
}

// TieredStore keeps a local memory store in front of a shared store. Deletes
// are published so that other instances drop their local copies.
type TieredStore struct {
	l1      *MemoryStore
	l2      Store
	client  *redis.Client
	channel string
	log     *logrus.Logger
}

// NewTieredStore creates a two-level store. client may be nil when no other
// instance shares l2.
func NewTieredStore(l1 *MemoryStore, l2 Store, client *redis.Client, channel string, log *logrus.Logger) *TieredStore {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &TieredStore{l1: l1, l2: l2, client: client, channel: channel, log: log}
}

// Get reads through to l2 and back-fills l1 on a hit
func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := s.l1.Get(ctx, key); err == nil {
		return value, nil
	}
	value, err := s.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = s.l1.Set(ctx, key, value)
	return value, nil
}

// Set writes l2 first, then l1
func (s *TieredStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.l2.Set(ctx, key, value); err != nil {
		return err
	}
	return s.l1.Set(ctx, key, value)
}

// Delete removes keys from both levels and notifies other instances
func (s *TieredStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_ = s.l1.Delete(ctx, keys...)
	if err := s.l2.Delete(ctx, keys...); err != nil {
		return err
	}
	return s.publish(ctx, invalidation{Keys: keys})
}

// DeletePrefix removes a key prefix from both levels and notifies other instances
func (s *TieredStore) DeletePrefix(ctx context.Context, prefix string) error {
	_ = s.l1.DeletePrefix(ctx, prefix)
	if err := s.l2.DeletePrefix(ctx, prefix); err != nil {
		return err
	}
	return s.publish(ctx, invalidation{Prefix: prefix})
}

// Keys lists the keys of the shared level
func (s *TieredStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.l2.Keys(ctx, prefix)
}

func (s *TieredStore) publish(ctx context.Context, msg invalidation) error {
	if s.client == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Invalidator evicts local entries when another instance deletes them
type Invalidator struct {
	l1      *MemoryStore
	client  *redis.Client
	channel string
	log     *logrus.Logger
}

// NewInvalidator creates an invalidator for the local store
func NewInvalidator(l1 *MemoryStore, client *redis.Client, channel string, log *logrus.Logger) *Invalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &Invalidator{l1: l1, client: client, channel: channel, log: log}
}

// Run subscribes to invalidations and applies them until ctx is done. ready,
// when non-nil, is closed once the subscription is active.
func (i *Invalidator) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := i.client.Subscribe(ctx, i.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", i.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("invalidation subscription closed")
			}
			i.apply(ctx, m.Payload)
		}
	}
}

func (i *Invalidator) apply(ctx context.Context, payload string) {
	var msg invalidation
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		i.log.WithError(err).Warn("Ignoring malformed cache invalidation")
		return
	}
	if len(msg.Keys) > 0 {
		_ = i.l1.Delete(ctx, msg.Keys...)
	}
	if msg.Prefix != "" {
		_ = i.l1.DeletePrefix(ctx, msg.Prefix)
	}
	i.log.WithFields(logrus.Fields{
		"keys":   len(msg.Keys),
		"prefix": msg.Prefix,
	}).Debug("Applied cache invalidation")
}
