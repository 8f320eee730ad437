package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
)

// Limits bounds the global send rate across all workers.
type Limits struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

// The script checks every window before incrementing any counter, so a
// denied send never consumes quota. GET-check-INCR done as separate
// commands races between workers.
const throttleScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local secondLimit = tonumber(ARGV[1])
local minuteLimit = tonumber(ARGV[2])
local dailyLimit = tonumber(ARGV[3])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secCurrent + 1 > secondLimit then
    return 0
end
if minCurrent + 1 > minuteLimit then
    return 0
end
if dayCurrent + 1 > dailyLimit then
    return 0
end

local newSec = redis.call("INCR", secondKey)
if newSec == 1 then
    redis.call("EXPIRE", secondKey, 2)
end
local newMin = redis.call("INCR", minuteKey)
if newMin == 1 then
    redis.call("EXPIRE", minuteKey, 120)
end
local newDay = redis.call("INCR", dailyKey)
if newDay == 1 then
    redis.call("EXPIRE", dailyKey, 172800)
end

return 1
`

// Throttle is a Redis-backed multi-window send rate limiter shared by
// every delivery worker.
type Throttle struct {
	client *redis.Client
	script *redis.Script
	limits Limits
	log    *logger.Logger
	now    func() time.Time
}

func NewThrottle(client *redis.Client, limits Limits) *Throttle {
	return &Throttle{
		client: client,
		script: redis.NewScript(throttleScript),
		limits: limits,
		log:    logger.Component("throttle"),
		now:    time.Now,
	}
}

// Allow atomically reserves one send slot. On Redis failure it allows
// the send: a slow mail stream beats a stalled one.
func (t *Throttle) Allow(ctx context.Context) bool {
	now := t.now().UTC()
	keys := []string{
		fmt.Sprintf("throttle:send:sec:%d", now.Unix()),
		fmt.Sprintf("throttle:send:min:%s", now.Format("200601021504")),
		fmt.Sprintf("throttle:send:day:%s", now.Format("20060102")),
	}

	res, err := t.script.Run(ctx, t.client, keys,
		t.limits.PerSecond, t.limits.PerMinute, t.limits.PerDay).Int()
	if err != nil {
		t.log.Warn("throttle check failed, allowing send", "error", err.Error())
		return true
	}
	return res == 1
}

// Wait blocks until a send slot is available or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		if t.Allow(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
