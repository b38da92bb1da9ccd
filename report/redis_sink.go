package report

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient 是 RedisSink 使用的客户端子集，*redis.Client 满足该接口
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSink 把每份报告写成两个 hash：
// <prefix>report:<id> 保存每个类型的累计计数，<prefix>latest 保存最近一份报告的摘要。
type RedisSink struct {
	Client RedisClient
	Prefix string
	// TTL 大于 0 时为报告 hash 设置过期时间
	TTL time.Duration
}

func (s *RedisSink) Write(ctx context.Context, r *Report) error {
	key := s.Prefix + "report:" + r.ID
	if len(r.Entries) > 0 {
		values := make([]any, 0, len(r.Entries)*2)
		for _, e := range r.Entries {
			values = append(values, e.Key, strconv.FormatUint(e.Count, 10))
		}
		if err := s.Client.HSet(ctx, key, values...).Err(); err != nil {
			return err
		}
		if s.TTL > 0 {
			if err := s.Client.Expire(ctx, key, s.TTL).Err(); err != nil {
				return err
			}
		}
	}

	return s.Client.HSet(ctx, s.Prefix+"latest",
		"id", r.ID,
		"generated_at", r.GeneratedAt.UTC().Format(time.RFC3339Nano),
		"snapshot_version", r.SnapshotVersion,
		"registrations", r.Registrations,
		"resolutions", r.Counters.Resolutions,
		"failures", r.Counters.Failures,
		"optimized", len(r.Optimized),
	).Err()
}
