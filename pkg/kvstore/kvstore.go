// Package kvstore is a small key/value persistence layer that stores every
// value inside a JSON envelope carrying its write time and optional expiry.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyKey is returned for blank keys.
	ErrEmptyKey = errors.New("kvstore: empty key")
	// ErrExpired is returned by SetItem when the expiration is not in the
	// future. Any previous value under the key is removed.
	ErrExpired = errors.New("kvstore: expiration already passed")
)

// Backend stores raw bytes by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type envelope struct {
	Value      json.RawMessage `json:"value"`
	Timestamp  int64           `json:"timestamp"`
	Expiration *int64          `json:"expiration"`
}

// Store (de)serializes values to JSON envelopes on top of a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the clock used for envelope timestamps and expiry checks.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNow replaces the clock. It must be called before the store is shared.
func (s *Store) SetNow(now func() time.Time) {
	WithNow(now)(s)
}

// SetItem writes value under key. A nil expiration keeps it forever.
func (s *Store) SetItem(ctx context.Context, key string, value any, expiration *time.Time) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	now := s.now()
	env := envelope{Value: raw, Timestamp: now.UnixMilli()}
	var ttl time.Duration
	if expiration != nil {
		ms := expiration.UnixMilli()
		env.Expiration = &ms
		ttl = expiration.Sub(now)
		if ttl <= 0 {
			if err := s.RemoveItem(ctx, key); err != nil {
				return err
			}
			return fmt.Errorf("write %s: %w", key, ErrExpired)
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// GetItem decodes the value under key into out. Missing or expired entries
// report found=false; expired ones are removed.
func (s *Store) GetItem(ctx context.Context, key string, out any) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("decode envelope %s: %w", key, err)
	}
	if env.Expiration != nil && s.now().UnixMilli() > *env.Expiration {
		if err := s.backend.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("drop expired %s: %w", key, err)
		}
		return false, nil
	}
	if out == nil || len(env.Value) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// RemoveItem deletes key.
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
