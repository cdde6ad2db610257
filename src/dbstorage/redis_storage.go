package dbstorage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andrewyi/attachcrawler/src/entity"
)

const DefaultRedisPrefix = "attachcrawler:session:"

// 每个会话一个hash，field为任务id，value为json
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStorage(addr, prefix string, ttl time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) Key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStorage) Record(ctx context.Context, sessionID string, task *entity.AttachmentTask) error {
	payload, err := json.Marshal(NewAttachmentRow(sessionID, task))
	if err != nil {
		return err
	}
	key := s.Key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, task.ID, payload)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}
