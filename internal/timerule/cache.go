package timerule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campanile/attendance/internal/model"
)

// Cache is the read cache for the active rule. It is eventually consistent
// and never authoritative: write paths go to the repository directly.
type Cache interface {
	GetActive(ctx context.Context) (model.TimeRule, bool)
	SetActive(ctx context.Context, rule model.TimeRule)
	Invalidate(ctx context.Context)
}

const activeRuleKey = "time_rule:active"

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func (c *RedisCache) GetActive(ctx context.Context) (model.TimeRule, bool) {
	value, err := c.client.Get(ctx, activeRuleKey).Result()
	if err == redis.Nil {
		return model.TimeRule{}, false
	}
	if err != nil {
		c.log.Warn("rule cache read failed", zap.Error(err))
		return model.TimeRule{}, false
	}
	var rule model.TimeRule
	if err := json.Unmarshal([]byte(value), &rule); err != nil {
		return model.TimeRule{}, false
	}
	return rule, true
}

func (c *RedisCache) SetActive(ctx context.Context, rule model.TimeRule) {
	data, err := json.Marshal(rule)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, activeRuleKey, data, c.ttl).Err(); err != nil {
		c.log.Warn("rule cache write failed", zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, activeRuleKey).Err(); err != nil {
		c.log.Warn("rule cache invalidate failed", zap.Error(err))
	}
}

type NopCache struct{}

func (NopCache) GetActive(context.Context) (model.TimeRule, bool) { return model.TimeRule{}, false }
func (NopCache) SetActive(context.Context, model.TimeRule)        {}
func (NopCache) Invalidate(context.Context)                       {}
