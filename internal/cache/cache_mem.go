package cache

import (
	"context"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemStore struct {
	Data *expirable.LRU[string, string]
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int, ttl time.Duration) *MemStore {
	return &MemStore{
		Data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *MemStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.Data.Get(key)
	return v, ok, nil
}

func (s *MemStore) Set(ctx context.Context, key, val string) error {
	s.Data.Add(key, val)
	return nil
}

func (s *MemStore) Invalidate(ctx context.Context, key string) error {
	s.Data.Remove(key)
	return nil
}

func (s *MemStore) InvalidatePattern(ctx context.Context, glob string) error {
	if _, err := path.Match(glob, ""); err != nil {
		return err
	}
	for _, k := range s.Data.Keys() {
		if ok, _ := path.Match(glob, k); ok {
			s.Data.Remove(k)
		}
	}
	return nil
}
