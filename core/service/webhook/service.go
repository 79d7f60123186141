// Package webhook implements the in.WebhookService: the landing point for
// the provider's push notification (§6 POST /webhook/mail). It does not
// trust the envelope to enumerate messages (§4.3) — it only extracts the
// user id, de-duplicates redelivery, and hands off to the WatchCoordinator.
package webhook

import (
	"context"
	"encoding/base64"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailgrouper/core/port/in"
	"mailgrouper/core/port/out"
	"mailgrouper/core/service/watch"
	"mailgrouper/pkg/apperr"
	"mailgrouper/pkg/ratelimit"
)

// pushEnvelope is the provider-agnostic shape Pub/Sub push delivery wraps a
// Gmail watch notification in: a base64 JSON payload carrying the mailbox
// address and the historyId at publish time.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
}

type pushPayload struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

type Service struct {
	coordinator *watch.Coordinator
	debouncer   *ratelimit.Debouncer
	users       out.UserRepository
	log         zerolog.Logger
}

func New(coordinator *watch.Coordinator, debouncer *ratelimit.Debouncer, users out.UserRepository, log zerolog.Logger) *Service {
	return &Service{coordinator: coordinator, debouncer: debouncer, users: users, log: log.With().Str("component", "webhook").Logger()}
}

func (s *Service) HandlePushNotification(ctx context.Context, userID string, rawEnvelope []byte) error {
	var env pushEnvelope
	if err := json.Unmarshal(rawEnvelope, &env); err != nil {
		return apperr.BadRequest("malformed push envelope")
	}

	resolvedUser := userID
	if env.Message.Data != "" {
		var payload pushPayload
		if decoded, err := decodePushData(env.Message.Data); err == nil {
			if err := json.Unmarshal(decoded, &payload); err == nil && payload.EmailAddress != "" && s.users != nil {
				if u, err := s.users.GetByEmail(ctx, payload.EmailAddress); err == nil {
					resolvedUser = u.ID
				}
			}
		}
	}
	if resolvedUser == "" {
		return apperr.BadRequest("push notification did not resolve to a known user")
	}

	dedupKey := "webhook:" + resolvedUser + ":" + env.Message.MessageID
	if env.Message.MessageID != "" && s.debouncer != nil {
		if s.debouncer.IsDuplicate(ctx, dedupKey) {
			s.log.Debug().Str("user_id", resolvedUser).Msg("duplicate push notification, skipping")
			return nil
		}
		s.debouncer.Mark(ctx, dedupKey)
	}

	return s.coordinator.HandlePush(ctx, resolvedUser)
}

func decodePushData(data string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

var _ in.WebhookService = (*Service)(nil)
