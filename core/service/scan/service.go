// Package scan implements the in.ScanService: user-triggered scans that sit
// outside the push/poll cadence C3 already runs (§6 POST /scan/ondemand,
// POST /scan/retroactive). Both enumerate messages straight from the
// provider and feed them into the existing queues rather than duplicating
// any of C4/C6's dispatch logic.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/in"
	"mailgrouper/core/port/out"
)

type Service struct {
	provider      out.MailProvider
	notifications out.Queue
	processing    out.Queue
	log           zerolog.Logger
}

func New(provider out.MailProvider, notifications, processing out.Queue, log zerolog.Logger) *Service {
	return &Service{
		provider:      provider,
		notifications: notifications,
		processing:    processing,
		log:           log.With().Str("component", "scan").Logger(),
	}
}

const defaultOnDemandLimit = 20

// OnDemand enqueues the N most recent messages as retro-sourced events on
// the NotificationQueue, same path a push event would take, so the existing
// C4 worker does the fetch+handoff (§6 "reuses the normal ingest path").
func (s *Service) OnDemand(ctx context.Context, userID string, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultOnDemandLimit
	}
	res, err := s.provider.ListMessages(ctx, userID, out.ListQuery{PageSize: limit})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range res.MessageIDs {
		event := domain.MessageEvent{
			UserID:    userID,
			MessageID: id,
			ArrivedAt: time.Now(),
			Source:    domain.SourceRetro,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to marshal on-demand event")
			continue
		}
		if err := s.notifications.Enqueue(ctx, event.DedupKey(), 2, payload); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// retroEnvelope mirrors core/service/aiprocess's wire shape: the message is
// fetched once here so C6 never re-fetches for a retroactive slice.
type retroEnvelope struct {
	Task    domain.ProcessingTask `json:"task"`
	Message *domain.Message       `json:"message"`
}

// Retroactive walks every message in [start, end) and hands each one
// straight to the AIProcessingQueue, tagged TaskRetroactiveScanSlice so the
// worker and any audit trail can tell it apart from a live-ingested message
// (§4.6, §6 POST /scan/retroactive).
func (s *Service) Retroactive(ctx context.Context, userID string, start, end time.Time) error {
	query := fmt.Sprintf("after:%d before:%d", start.Unix(), end.Unix())
	cursor := ""
	for {
		res, err := s.provider.ListMessages(ctx, userID, out.ListQuery{Query: query, PageSize: 100, Cursor: cursor})
		if err != nil {
			return err
		}
		for _, id := range res.MessageIDs {
			msg, err := s.provider.FetchMessage(ctx, userID, id, true)
			if err != nil {
				s.log.Warn().Err(err).Str("message_id", id).Msg("retroactive fetch failed")
				continue
			}
			task := domain.ProcessingTask{
				Kind:       domain.TaskRetroactiveScanSlice,
				UserID:     userID,
				MessageID:  msg.ProviderID,
				ThreadID:   msg.ThreadID,
				SliceStart: start,
				SliceEnd:   end,
			}
			payload, err := json.Marshal(retroEnvelope{Task: task, Message: msg})
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to marshal retroactive task")
				continue
			}
			dedup := userID + "|" + msg.ProviderID + "|extract"
			if err := s.processing.Enqueue(ctx, dedup, 6, payload); err != nil {
				s.log.Warn().Err(err).Str("message_id", id).Msg("retroactive enqueue failed")
			}
		}
		if res.NextCursor == "" {
			return nil
		}
		cursor = res.NextCursor
	}
}

var _ in.ScanService = (*Service)(nil)
