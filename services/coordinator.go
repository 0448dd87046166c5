package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"waiting-room/internal/status"
)

// Join outcome statuses returned by joinScript. "admitted" and "queued" mean
// the user was placed on this call; "active" and "waiting" mean the call was
// an idempotent repeat; "full" means the queue is at max_users.
const (
	joinAdmitted = "admitted"
	joinQueued   = "queued"
	joinActive   = "active"
	joinWaiting  = "waiting"
	joinFull     = "full"
)

// joinScript is the single atomic test-and-admit operation. It must be the
// only place a user is added to the active set or the waiting list by the
// request path; counting and inserting in separate round trips would let
// concurrent joins overshoot max_concurrent.
//
// KEYS[1] active zset (member=userID, score=slot expiry unix seconds)
// KEYS[2] waiting list
// KEYS[3] user hash
// ARGV: userID, maxConcurrent, maxUsers, now, expireAt, userTTL
const joinScript = `
local user = ARGV[1]
local max_concurrent = tonumber(ARGV[2])
local max_users = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local expire_at = tonumber(ARGV[5])
local user_ttl = tonumber(ARGV[6])

local score = redis.call('ZSCORE', KEYS[1], user)
if score and tonumber(score) >= now then
  return {'active', 0, redis.call('LLEN', KEYS[2]), redis.call('ZCOUNT', KEYS[1], now, '+inf')}
end
if score then
  redis.call('ZREM', KEYS[1], user)
  redis.call('DEL', KEYS[3])
end

local idx = redis.call('LPOS', KEYS[2], user)
if idx then
  return {'waiting', idx + 1, redis.call('LLEN', KEYS[2]), redis.call('ZCOUNT', KEYS[1], now, '+inf')}
end

local active = redis.call('ZCOUNT', KEYS[1], now, '+inf')
if active < max_concurrent then
  redis.call('ZADD', KEYS[1], expire_at, user)
  redis.call('HSET', KEYS[3], 'status', 'active', 'admitted_at', now)
  redis.call('EXPIRE', KEYS[3], user_ttl)
  return {'admitted', 0, redis.call('LLEN', KEYS[2]), active + 1}
end

local waiting = redis.call('LLEN', KEYS[2])
if active + waiting >= max_users then
  return {'full', 0, waiting, active}
end

redis.call('RPUSH', KEYS[2], user)
redis.call('HSET', KEYS[3], 'status', 'waiting', 'joined_at', now)
return {'queued', waiting + 1, waiting + 1, active}
`

// KEYS[1] active zset, KEYS[2] waiting list, KEYS[3] user hash
// ARGV: userID
const leaveScript = `
local removed_active = redis.call('ZREM', KEYS[1], ARGV[1])
local removed_waiting = redis.call('LREM', KEYS[2], 1, ARGV[1])
redis.call('DEL', KEYS[3])
if removed_active > 0 then return 'active' end
if removed_waiting > 0 then return 'waiting' end
return 'none'
`

// reclaimScript pops every lapsed slot out of the active zset and returns the
// affected userIDs so the caller can record the abandonment. The user hashes
// expire on their own TTL; the zset entry is what carries the audit trail.
//
// KEYS[1] active zset
// ARGV: now
const reclaimScript = `
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
if #expired > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
end
return expired
`

// completeScript releases the user's active slot on a checkout-completed
// signal. Unlike leaveScript it never touches the waiting list: only an
// active user can complete.
//
// KEYS[1] active zset, KEYS[2] user hash
// ARGV: userID
const completeScript = `
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed > 0 then redis.call('DEL', KEYS[2]) end
return removed
`

// promoteScript moves at most maxConcurrent-activeCount users from the front
// of the waiting list into the active zset, in one atomic step so overlapping
// worker passes can never jointly admit more than the free slot count.
//
// KEYS[1] active zset, KEYS[2] waiting list
// ARGV: maxConcurrent, now, expireAt
const promoteScript = `
local max_concurrent = tonumber(ARGV[1])
local now = ARGV[2]
local expire_at = ARGV[3]

local active = redis.call('ZCOUNT', KEYS[1], now, '+inf')
local free = max_concurrent - active
local promoted = {}
while free > 0 do
  local user = redis.call('LPOP', KEYS[2])
  if not user then break end
  redis.call('ZADD', KEYS[1], expire_at, user)
  promoted[#promoted + 1] = user
  free = free - 1
end
return promoted
`

// JoinOutcome is the raw result of the join script, before the ledger mirror
// and reservation issuance.
type JoinOutcome struct {
	Status       string
	Position     int
	TotalWaiting int64
	TotalActive  int64
}

// Coordinator owns all per-event ephemeral state in Redis. Nothing here is
// cached in-process; multiple gateway and worker instances share it safely
// because every capacity-changing operation is a single server-side script.
type Coordinator struct {
	Redis   *redis.Client
	slotTTL time.Duration
	now     func() time.Time
}

func NewCoordinator(redisClient *redis.Client, slotTTL time.Duration) *Coordinator {
	return &Coordinator{
		Redis:   redisClient,
		slotTTL: slotTTL,
		now:     time.Now,
	}
}

func activeKey(eventID string) string {
	return fmt.Sprintf("queue:active:%s", eventID)
}

func waitingKey(eventID string) string {
	return fmt.Sprintf("queue:waiting:%s", eventID)
}

func userKey(eventID, userID string) string {
	return fmt.Sprintf("queue:user:%s:%s", eventID, userID)
}

// eventsKey is a set of eventIDs with a QueueConfig, kept in sync by record
// hooks so the worker and metrics collector iterate without KEYS scans.
const eventsKey = "queue:events"

// Join atomically admits the user, appends them to the waiting list, or
// reports their existing placement.
func (c *Coordinator) Join(ctx context.Context, eventID, userID string, maxConcurrent, maxUsers int) (*JoinOutcome, error) {
	now := c.now()
	expireAt := now.Add(c.slotTTL)

	res, err := c.Redis.Eval(ctx, joinScript,
		[]string{activeKey(eventID), waitingKey(eventID), userKey(eventID, userID)},
		userID, maxConcurrent, maxUsers, now.Unix(), expireAt.Unix(), int(c.slotTTL.Seconds()),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("join script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return nil, fmt.Errorf("join script: unexpected reply %v", res)
	}

	outcome := &JoinOutcome{
		Status:       toString(vals[0]),
		Position:     int(toInt64(vals[1])),
		TotalWaiting: toInt64(vals[2]),
		TotalActive:  toInt64(vals[3]),
	}
	return outcome, nil
}

// Leave removes whichever of active slot / waiting entry the user holds and
// reports which one it was ("active", "waiting" or "none"). It never
// promotes; promotion belongs to the worker.
func (c *Coordinator) Leave(ctx context.Context, eventID, userID string) (string, error) {
	res, err := c.Redis.Eval(ctx, leaveScript,
		[]string{activeKey(eventID), waitingKey(eventID), userKey(eventID, userID)},
		userID,
	).Text()
	if err != nil {
		return "", fmt.Errorf("leave script: %w", err)
	}
	return res, nil
}

// Complete releases the user's active slot after a finished checkout and
// reports whether a slot was actually held.
func (c *Coordinator) Complete(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := c.Redis.Eval(ctx, completeScript,
		[]string{activeKey(eventID), userKey(eventID, userID)},
		userID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("complete script: %w", err)
	}
	return res > 0, nil
}

// ReclaimExpired removes every active slot whose TTL has lapsed and returns
// the userIDs it removed. A second call without new expiries returns none.
func (c *Coordinator) ReclaimExpired(ctx context.Context, eventID string) ([]string, error) {
	res, err := c.Redis.Eval(ctx, reclaimScript,
		[]string{activeKey(eventID)},
		c.now().Unix(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("reclaim script: %w", err)
	}
	return res, nil
}

// Promote fills free slots from the front of the waiting list and returns the
// newly admitted userIDs in promotion order.
func (c *Coordinator) Promote(ctx context.Context, eventID string, maxConcurrent int) ([]string, error) {
	now := c.now()
	expireAt := now.Add(c.slotTTL)

	res, err := c.Redis.Eval(ctx, promoteScript,
		[]string{activeKey(eventID), waitingKey(eventID)},
		maxConcurrent, now.Unix(), expireAt.Unix(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("promote script: %w", err)
	}
	return res, nil
}

// MarkAdmitted refreshes the user hash after a promotion or an immediate
// admission: status, admission time, reservation id, and the slot TTL.
func (c *Coordinator) MarkAdmitted(ctx context.Context, eventID, userID, reservationID string) error {
	key := userKey(eventID, userID)
	if err := c.Redis.HSet(ctx, key, map[string]any{
		"status":         "active",
		"admitted_at":    c.now().Unix(),
		"reservation_id": reservationID,
	}).Err(); err != nil {
		return fmt.Errorf("mark admitted: %w", err)
	}
	if err := c.Redis.Expire(ctx, key, c.slotTTL).Err(); err != nil {
		return fmt.Errorf("mark admitted: %w", err)
	}
	return nil
}

// Position is a pure read of the user's current placement. A lapsed slot that
// the worker has not reclaimed yet reports ErrExpiredReservation; callers
// surface it the same as not being in the queue.
func (c *Coordinator) Position(ctx context.Context, eventID, userID string) (admitted bool, position int, reservationID string, err error) {
	now := c.now().Unix()

	score, err := c.Redis.ZScore(ctx, activeKey(eventID), userID).Result()
	switch {
	case err == nil:
		if int64(score) < now {
			return false, 0, "", status.ErrExpiredReservation
		}
		reservationID, _ = c.Redis.HGet(ctx, userKey(eventID, userID), "reservation_id").Result()
		return true, 0, reservationID, nil
	case err != redis.Nil:
		return false, 0, "", fmt.Errorf("position: %w", err)
	}

	idx, err := c.Redis.LPos(ctx, waitingKey(eventID), userID, redis.LPosArgs{}).Result()
	if err == redis.Nil {
		return false, 0, "", status.ErrNotInQueue
	}
	if err != nil {
		return false, 0, "", fmt.Errorf("position: %w", err)
	}
	return false, int(idx) + 1, "", nil
}

// Counts returns the live waiting and active totals for an event.
func (c *Coordinator) Counts(ctx context.Context, eventID string) (waiting, active int64, err error) {
	now := strconv.FormatInt(c.now().Unix(), 10)

	waiting, err = c.Redis.LLen(ctx, waitingKey(eventID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("counts: %w", err)
	}
	active, err = c.Redis.ZCount(ctx, activeKey(eventID), now, "+inf").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("counts: %w", err)
	}
	return waiting, active, nil
}

// Contains reports whether the user currently holds a live slot or a waiting
// entry. Used by the worker's ledger sweep, never by admission decisions.
func (c *Coordinator) Contains(ctx context.Context, eventID, userID string) (bool, error) {
	score, err := c.Redis.ZScore(ctx, activeKey(eventID), userID).Result()
	if err == nil {
		return int64(score) >= c.now().Unix(), nil
	}
	if err != redis.Nil {
		return false, fmt.Errorf("contains: %w", err)
	}

	_, err = c.Redis.LPos(ctx, waitingKey(eventID), userID, redis.LPosArgs{}).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contains: %w", err)
	}
	return true, nil
}

// TrackEvent and UntrackEvent maintain the configured-events set used by the
// worker and the metrics collector.
func (c *Coordinator) TrackEvent(ctx context.Context, eventID string) error {
	return c.Redis.SAdd(ctx, eventsKey, eventID).Err()
}

func (c *Coordinator) UntrackEvent(ctx context.Context, eventID string) error {
	return c.Redis.SRem(ctx, eventsKey, eventID).Err()
}

func (c *Coordinator) TrackedEvents(ctx context.Context) ([]string, error) {
	return c.Redis.SMembers(ctx, eventsKey).Result()
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toInt64(v interface{}) int64 {
	n, _ := v.(int64)
	return n
}
