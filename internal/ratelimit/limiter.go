// Package ratelimit provides Redis-backed rate limiting using the
// INCR + EXPIRE fixed-window algorithm, used to throttle matchmaking joins
// and WebSocket connects per user or IP.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:join:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleJoin allows 10 join requests per minute per user. A client
	// hammering join cannot churn the wait queue faster than that.
	RuleJoin = Rule{Key: "rl:join:", Limit: 10, Window: 1 * time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined
// by rule. It increments the counter and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open so that a Redis outage does not block
// legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, rule Rule, id string) bool {
	key := rule.Key + id

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] incr %s: %v (failing open)", key, err)
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] expire %s: %v", key, err)
		}
	}

	return count <= int64(rule.Limit)
}

// Bound is a Limiter fixed to a single rule, for callers that check one
// policy and don't care which.
type Bound struct {
	limiter *Limiter
	rule    Rule
}

// Bind returns the limiter restricted to the given rule.
func (l *Limiter) Bind(rule Rule) *Bound {
	return &Bound{limiter: l, rule: rule}
}

// Allow checks the bound rule for the given identifier.
func (b *Bound) Allow(ctx context.Context, id string) bool {
	return b.limiter.Allow(ctx, b.rule, id)
}
