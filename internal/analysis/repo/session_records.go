package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finlens-poc/server/internal/analysis/model"
	errx "github.com/finlens-poc/server/internal/core/error"
	logx "github.com/finlens-poc/server/pkg/logger"
)

const sessionIndexKey = "analysis:sessions"

type RedisSessionRecordRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionRecordRepository(rdb redis.Cmdable, ttl time.Duration) *RedisSessionRecordRepository {
	return &RedisSessionRecordRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionRecordRepository) recordKey(sessionID string) string {
	return fmt.Sprintf("analysis:session:%s", sessionID)
}

func (r *RedisSessionRecordRepository) Save(ctx context.Context, record model.SessionRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", record.ID).Msg("failed to marshal session record")
		return fmt.Errorf("marshal session record: %w", err)
	}
	key := r.recordKey(record.ID)

	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to write session record to redis")
		return errx.WrapRedis(err)
	}
	if err := r.rdb.SAdd(ctx, sessionIndexKey, record.ID).Err(); err != nil {
		logx.Error().Err(err).Str("sessionID", record.ID).Msg("failed to index session record")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRecordRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, r.recordKey(sessionID)).Err(); err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to delete session record from redis")
		return errx.WrapRedis(err)
	}
	if err := r.rdb.SRem(ctx, sessionIndexKey, sessionID).Err(); err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to unindex session record")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRecordRepository) List(ctx context.Context) ([]model.SessionRecord, error) {
	ids, err := r.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Msg("failed to list session records from redis")
		return nil, errx.WrapRedis(err)
	}

	records := make([]model.SessionRecord, 0, len(ids))
	for _, id := range ids {
		raw, err := r.rdb.Get(ctx, r.recordKey(id)).Result()
		if err != nil {
			if err == redis.Nil {
				// Record expired out from under its index entry.
				continue
			}
			return nil, errx.WrapRedis(err)
		}
		var rec model.SessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logx.Error().Err(err).Str("sessionID", id).Msg("failed to unmarshal session record")
			return nil, fmt.Errorf("unmarshal session record %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

var _ model.SessionRecordRepository = (*RedisSessionRecordRepository)(nil)
