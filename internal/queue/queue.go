// Package queue implements the durable, leased, priority work queue shared
// by C4 (NotificationQueue) and C6 (AIProcessingQueue): both are separate
// instances of this same engine, sized with independent worker pools.
//
// It is grounded on the teacher's Redis Streams consumer — XREADGROUP for
// exclusive delivery, XPENDING/XCLAIM for lease-expiry reprocessing, a
// dlq:<stream> stream for dead letters — generalized with one stream per
// priority level (1 highest .. 10 lowest) so Reserve drains high-priority
// streams first, and a delayed-retry sorted set for backoff scheduling
// (Redis Streams have no native delayed delivery).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailgrouper/core/port/out"
)

const numPriorities = 10

type itemMeta struct {
	ID          string    `json:"id"`
	DedupKey    string    `json:"dedup_key"`
	Payload     []byte    `json:"payload"`
	Priority    int       `json:"priority"`
	Attempts    int       `json:"attempts"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Stream      string    `json:"stream"` // priority stream it was delivered on
}

// Queue is a redis.Client-backed implementation of out.Queue.
type Queue struct {
	redis  *redis.Client
	name   string
	group  string
	log    zerolog.Logger
	groups map[string]bool
}

var _ out.Queue = (*Queue)(nil)

func New(redisClient *redis.Client, name string, log zerolog.Logger) *Queue {
	return &Queue{
		redis:  redisClient,
		name:   name,
		group:  name + "-workers",
		log:    log.With().Str("queue", name).Logger(),
		groups: make(map[string]bool),
	}
}

func (q *Queue) streamKey(priority int) string {
	if priority < 1 {
		priority = 1
	}
	if priority > numPriorities {
		priority = numPriorities
	}
	return fmt.Sprintf("queue:%s:p%d", q.name, priority)
}

func (q *Queue) dlqKey() string      { return fmt.Sprintf("dlq:queue:%s", q.name) }
func (q *Queue) delayedKey() string  { return fmt.Sprintf("queue:%s:delayed", q.name) }
func (q *Queue) dedupKey(k string) string { return fmt.Sprintf("queue:%s:dedup:%s", q.name, k) }
func (q *Queue) metaKey(id string) string { return fmt.Sprintf("queue:%s:item:%s", q.name, id) }

func (q *Queue) ensureGroup(ctx context.Context, stream string) error {
	if q.groups[stream] {
		return nil
	}
	err := q.redis.XGroupCreateMkStream(ctx, stream, q.group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means it already exists — not an error.
		if !isBusyGroupErr(err) {
			return err
		}
	}
	q.groups[stream] = true
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Enqueue is idempotent on dedupKey (§4.4): a re-enqueue of the same key
// raises the stored priority to the max of existing and new rather than
// creating a second item. Because a Redis Stream entry cannot be moved
// between priority streams after delivery, raising priority only updates
// the tracked metadata (used by stats/admin); the in-flight delivery order
// is a best-effort approximation under re-priority, matching the spec's
// "best-effort fairness under multiple workers" allowance (§4.1).
func (q *Queue) Enqueue(ctx context.Context, dk string, priority int, payload []byte) error {
	dkey := q.dedupKey(dk)
	id, err := q.redis.Get(ctx, dkey).Result()
	if err == nil && id != "" {
		return q.raisePriority(ctx, id, priority)
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	stream := q.streamKey(priority)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return err
	}

	msgID, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"dedup_key": dk},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue: xadd: %w", err)
	}

	meta := itemMeta{
		ID:        msgID,
		DedupKey:  dk,
		Payload:   payload,
		Priority:  priority,
		Status:    "pending",
		CreatedAt: time.Now(),
		Stream:    stream,
	}
	if err := q.saveMeta(ctx, meta); err != nil {
		return err
	}

	pipe := q.redis.TxPipeline()
	pipe.Set(ctx, dkey, msgID, 7*24*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) raisePriority(ctx context.Context, id string, priority int) error {
	meta, err := q.loadMeta(ctx, id)
	if errors.Is(err, redis.Nil) {
		// Already completed or dead-lettered: the live dedup key still
		// suppresses the duplicate.
		return nil
	}
	if err != nil {
		return err
	}
	if priority < meta.Priority {
		meta.Priority = priority
		return q.saveMeta(ctx, *meta)
	}
	return nil
}

func (q *Queue) saveMeta(ctx context.Context, m itemMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, q.metaKey(m.ID), data, 7*24*time.Hour).Err()
}

func (q *Queue) loadMeta(ctx context.Context, id string) (*itemMeta, error) {
	data, err := q.redis.Get(ctx, q.metaKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load meta %s: %w", id, err)
	}
	var m itemMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Reserve drains delayed items whose backoff has elapsed, then reads from
// the highest-priority stream first until n items are collected.
func (q *Queue) Reserve(ctx context.Context, worker string, n int, lease time.Duration) ([]out.ReservedItem, error) {
	q.releaseDueDelayed(ctx)

	var results []out.ReservedItem
	for p := 1; p <= numPriorities && len(results) < n; p++ {
		stream := q.streamKey(p)
		if err := q.ensureGroup(ctx, stream); err != nil {
			return results, err
		}
		remaining := int64(n - len(results))
		streams, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: worker,
			Streams:  []string{stream, ">"},
			Count:    remaining,
			Block:    -1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return results, err
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				item, ok := q.toReserved(ctx, msg.ID)
				if ok {
					results = append(results, item)
				}
			}
		}
	}
	return results, nil
}

func (q *Queue) toReserved(ctx context.Context, id string) (out.ReservedItem, bool) {
	meta, err := q.loadMeta(ctx, id)
	if err != nil {
		q.log.Warn().Err(err).Str("id", id).Msg("reserved item missing metadata")
		return out.ReservedItem{}, false
	}
	return out.ReservedItem{
		ID:       meta.ID,
		Payload:  meta.Payload,
		Priority: meta.Priority,
		Attempts: meta.Attempts,
		DedupKey: meta.DedupKey,
	}, true
}

// Complete acknowledges the item. The dedup key is intentionally left in
// place (it expires after 7 days) so a duplicate MessageEvent replayed
// shortly after completion still dedupes rather than producing a second
// mapping attempt (testable property 5, §8).
func (q *Queue) Complete(ctx context.Context, id string) error {
	meta, err := q.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	if err := q.redis.XAck(ctx, meta.Stream, q.group, id).Err(); err != nil {
		return err
	}
	return q.redis.Del(ctx, q.metaKey(id)).Err()
}

// Fail classifies the failure per policy.Retryable: retryable items are
// scheduled for backoff re-delivery; exhausted-attempts or non-retryable
// items move to the dead-letter stream and are never auto-replayed (§4.4).
func (q *Queue) Fail(ctx context.Context, id string, cause error, policy out.RetryPolicy) error {
	meta, err := q.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	if err := q.redis.XAck(ctx, meta.Stream, q.group, id).Err(); err != nil {
		return err
	}
	meta.Attempts++

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if !policy.Retryable || meta.Attempts >= maxAttempts {
		return q.moveToDeadLetter(ctx, *meta, cause)
	}

	delay := backoff(meta.Attempts, policy.BackoffBase)
	meta.Status = "pending"
	if err := q.saveMeta(ctx, *meta); err != nil {
		return err
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	return q.redis.ZAdd(ctx, q.delayedKey(), redis.Z{Score: score, Member: meta.ID}).Err()
}

func backoff(attempts int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	mult := math.Pow(2, float64(attempts-1))
	jitter := time.Duration(rand.Int63n(int64(base)))
	return time.Duration(float64(base)*mult) + jitter
}

func (q *Queue) releaseDueDelayed(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.redis.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		meta, err := q.loadMeta(ctx, id)
		if err != nil {
			q.redis.ZRem(ctx, q.delayedKey(), id)
			continue
		}
		stream := q.streamKey(meta.Priority)
		if err := q.ensureGroup(ctx, stream); err != nil {
			continue
		}
		newID, err := q.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{"dedup_key": meta.DedupKey, "retry": true},
		}).Result()
		if err != nil {
			continue
		}
		meta.ID = newID
		meta.Stream = stream
		if err := q.saveMeta(ctx, *meta); err == nil {
			q.redis.ZRem(ctx, q.delayedKey(), id)
		}
	}
}

func (q *Queue) moveToDeadLetter(ctx context.Context, meta itemMeta, cause error) error {
	meta.Status = "dead"
	errSummary := ""
	if cause != nil {
		errSummary = cause.Error()
	}
	if err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqKey(),
		Values: map[string]any{
			"id":         meta.ID,
			"dedup_key":  meta.DedupKey,
			"attempts":   meta.Attempts,
			"error":      errSummary,
			"payload":    meta.Payload,
			"created_at": meta.CreatedAt.Format(time.RFC3339),
		},
	}).Err(); err != nil {
		return err
	}
	return q.redis.Del(ctx, q.metaKey(meta.ID)).Err()
}

func (q *Queue) PeekStats(ctx context.Context) (out.QueueStats, error) {
	var stats out.QueueStats
	for p := 1; p <= numPriorities; p++ {
		stream := q.streamKey(p)
		length, err := q.redis.XLen(ctx, stream).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			continue
		}
		stats.Pending += length
	}
	deadLen, err := q.redis.XLen(ctx, q.dlqKey()).Result()
	if err == nil {
		stats.Dead = deadLen
	}
	return stats, nil
}

func (q *Queue) ListDead(ctx context.Context, limit int) ([]out.ReservedItem, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := q.redis.XRevRangeN(ctx, q.dlqKey(), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	items := make([]out.ReservedItem, 0, len(msgs))
	for _, m := range msgs {
		payload, _ := m.Values["payload"].(string)
		items = append(items, out.ReservedItem{
			ID:      fmt.Sprintf("%v", m.Values["id"]),
			Payload: []byte(payload),
		})
	}
	return items, nil
}

// ReclaimStalePending re-delivers items whose lease has expired, via
// XPENDING+XCLAIM, exactly as the teacher's Consumer does. It walks every
// priority stream; no Scheduler job calls it.
func (q *Queue) ReclaimStalePending(ctx context.Context, worker string, minIdle time.Duration, maxAttempts int) {
	for p := 1; p <= numPriorities; p++ {
		stream := q.streamKey(p)
		if err := q.ensureGroup(ctx, stream); err != nil {
			continue
		}
		pending, err := q.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  q.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}
		for _, p2 := range pending {
			if p2.Idle < minIdle {
				continue
			}
			claimed, err := q.redis.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    q.group,
				Consumer: worker,
				MinIdle:  minIdle,
				Messages: []string{p2.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue
			}
			meta, err := q.loadMeta(ctx, p2.ID)
			if err != nil {
				q.redis.XAck(ctx, stream, q.group, p2.ID)
				continue
			}
			if int(p2.RetryCount) >= maxAttempts {
				q.redis.XAck(ctx, stream, q.group, p2.ID)
				q.moveToDeadLetter(ctx, *meta, errors.New("lease expired repeatedly"))
			}
		}
	}
}
