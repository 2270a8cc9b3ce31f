package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tripph/promptfeed/internal/domain"
)

// SnapshotStore keeps the whole feed document under one key. SET replaces
// the value atomically, so readers never see a partial document.
type SnapshotStore struct {
	rdb *goredis.Client
	key string
}

func NewSnapshotStore(rdb *goredis.Client, key string) *SnapshotStore {
	return &SnapshotStore{rdb: rdb, key: key}
}

func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return data, nil
}

func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
