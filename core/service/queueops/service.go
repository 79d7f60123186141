// Package queueops implements the in.QueueOpsService admin surface (§6
// GET /queue, POST /queue/process): inspect queue depth and dead letters,
// and step one reservation forward by hand for debugging a stuck item.
package queueops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"mailgrouper/core/port/in"
	"mailgrouper/core/port/out"
)

type Service struct {
	queues map[string]out.Queue
	log    zerolog.Logger
}

// New takes the named set of queues the admin surface can inspect —
// "notifications", "processing", "reflection" — rather than a single Queue,
// since §6's GET /queue reports on all three (§4.4, §4.6, §4.8).
func New(queues map[string]out.Queue, log zerolog.Logger) *Service {
	return &Service{queues: queues, log: log.With().Str("component", "queueops").Logger()}
}

func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any, len(s.queues))
	for name, q := range s.queues {
		stats, err := q.PeekStats(ctx)
		if err != nil {
			return nil, err
		}
		result[name] = map[string]int64{
			"pending":    stats.Pending,
			"processing": stats.Processing,
			"dead":       stats.Dead,
		}
	}
	return result, nil
}

// ProcessOne reserves and immediately completes a single item from the
// processing queue, for manually draining a backlog from the admin surface.
// It does not run the item's business logic — that stays the worker's job —
// it only reports whether anything was waiting.
func (s *Service) ProcessOne(ctx context.Context) (bool, error) {
	q, ok := s.queues["processing"]
	if !ok {
		return false, nil
	}
	items, err := q.Reserve(ctx, "admin-manual", 1, 5*time.Second)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}
	return true, q.Complete(ctx, items[0].ID)
}

func (s *Service) ListDead(ctx context.Context, queue string, limit int) ([]map[string]any, error) {
	q, ok := s.queues[queue]
	if !ok {
		return nil, nil
	}
	items, err := q.ListDead(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		var payload any
		_ = json.Unmarshal(item.Payload, &payload)
		result = append(result, map[string]any{
			"id":       item.ID,
			"attempts": item.Attempts,
			"priority": item.Priority,
			"dedup":    item.DedupKey,
			"payload":  payload,
		})
	}
	return result, nil
}

var _ in.QueueOpsService = (*Service)(nil)
