package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "purchase-conversion-sent:"

// sentMarker is the opaque value stored under a dedup key. Only key
// presence matters.
const sentMarker = "1"

// DedupStore answers whether a Purchase conversion event has already been
// emitted for a purchase id, across sessions and restarts. MarkFired is
// idempotent and entries never expire.
type DedupStore interface {
	HasFired(ctx context.Context, purchaseID string) (bool, error)
	MarkFired(ctx context.Context, purchaseID string) error
}

func dedupKey(purchaseID string) string {
	return dedupKeyPrefix + purchaseID
}

type RedisDedupStore struct {
	client *redis.Client
}

func NewRedisDedupStore(client *redis.Client) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

func (s *RedisDedupStore) HasFired(ctx context.Context, purchaseID string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupKey(purchaseID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisDedupStore) MarkFired(ctx context.Context, purchaseID string) error {
	return s.client.SetNX(ctx, dedupKey(purchaseID), sentMarker, 0).Err()
}

// FileDedupStore is a JSON-file-backed store for local runs and single
// instance deployments without Redis.
type FileDedupStore struct {
	path string

	mu    sync.Mutex
	fired map[string]string
}

func NewFileDedupStore(path string) (*FileDedupStore, error) {
	store := &FileDedupStore{
		path:  path,
		fired: map[string]string{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &store.fired); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func (s *FileDedupStore) HasFired(_ context.Context, purchaseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fired[dedupKey(purchaseID)]
	return ok, nil
}

func (s *FileDedupStore) MarkFired(_ context.Context, purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(purchaseID)
	if _, ok := s.fired[key]; ok {
		return nil
	}
	s.fired[key] = sentMarker

	return s.flushLocked()
}

func (s *FileDedupStore) flushLocked() error {
	data, err := json.Marshal(s.fired)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

// MemoryDedupStore keeps marks in process memory only. Test and fallback
// implementation; it does not survive restarts.
type MemoryDedupStore struct {
	mu    sync.Mutex
	fired map[string]string
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{fired: map[string]string{}}
}

func (s *MemoryDedupStore) HasFired(_ context.Context, purchaseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fired[dedupKey(purchaseID)]
	return ok, nil
}

func (s *MemoryDedupStore) MarkFired(_ context.Context, purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[dedupKey(purchaseID)] = sentMarker
	return nil
}
