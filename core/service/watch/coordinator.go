// Package watch implements C3: maintaining push subscriptions and polling
// fallbacks, and turning both into a canonical MessageEvent stream fed to
// the NotificationQueue (C4). Grounded on the teacher's watch-renewal
// scheduler (adapter/in/worker/worker_watch_renew.go) for the ticker+
// ctx.Done renewal loop.
package watch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

const defaultPollInterval = 300 * time.Second

type Coordinator struct {
	subs     out.SubscriptionRepository
	provider out.MailProvider
	queue    out.Queue
	users    out.UserRepository
	log      zerolog.Logger

	renewalMargin time.Duration
	pollInterval  time.Duration
	pollStream    string // NotificationQueue name
}

func New(subs out.SubscriptionRepository, provider out.MailProvider, queue out.Queue, users out.UserRepository, renewalMargin, pollInterval time.Duration, log zerolog.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Coordinator{
		subs:          subs,
		provider:      provider,
		queue:         queue,
		users:         users,
		renewalMargin: renewalMargin,
		pollInterval:  pollInterval,
		log:           log.With().Str("component", "watch").Logger(),
	}
}

// HandlePush is the entry point from the webhook handler. Per §4.3, the
// push envelope is not trusted to enumerate messages — it only tells us
// which user changed, so we enqueue a single push-sourced MessageEvent
// and let the consumer call GetHistory to enumerate new ids.
func (c *Coordinator) HandlePush(ctx context.Context, userID string) error {
	sub, err := c.subs.Get(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	sub.LastPushAt = now
	if err := c.subs.Save(ctx, sub); err != nil {
		return err
	}

	event := domain.MessageEvent{
		UserID:        userID,
		HistoryCursor: sub.HistoryCursor,
		ArrivedAt:     now,
		Source:        domain.SourcePush,
	}
	return c.enqueueEvent(ctx, event, 3)
}

// PollOnce runs one polling pass over all users without a recent push
// (§4.3 "skips users whose kind=push and who have produced a push-driven
// event within the last interval").
func (c *Coordinator) PollOnce(ctx context.Context) error {
	users, err := c.users.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.AuthExpired {
			continue
		}
		sub, err := c.subs.Get(ctx, u.ID)
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", u.ID).Msg("no subscription for user, skipping poll")
			continue
		}
		if sub.RecentlyPushed(c.pollInterval) {
			continue
		}
		if err := c.pollUser(ctx, u.ID, sub); err != nil {
			c.log.Warn().Err(err).Str("user_id", u.ID).Msg("poll failed")
		}
	}
	return nil
}

func (c *Coordinator) pollUser(ctx context.Context, userID string, sub *domain.WatchSubscription) error {
	history, err := c.provider.GetHistory(ctx, userID, sub.HistoryCursor)
	if err != nil {
		appErr := apperr.AsAppError(err)
		if appErr.Code == apperr.CodeAuthExpired {
			return c.markAuthExpired(ctx, userID)
		}
		return err
	}
	for _, msgID := range history.NewMessageIDs {
		event := domain.MessageEvent{
			UserID:        userID,
			MessageID:     msgID,
			HistoryCursor: history.NextCursor,
			ArrivedAt:     time.Now(),
			Source:        domain.SourcePoll,
		}
		if err := c.enqueueEvent(ctx, event, 5); err != nil {
			c.log.Warn().Err(err).Str("message_id", msgID).Msg("failed to enqueue polled event")
		}
	}
	sub.HistoryCursor = history.NextCursor
	sub.UpdatedAt = time.Now()
	return c.subs.Save(ctx, sub)
}

func (c *Coordinator) markAuthExpired(ctx context.Context, userID string) error {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.MarkAuthExpired()
	return c.users.Save(ctx, u)
}

func (c *Coordinator) enqueueEvent(ctx context.Context, e domain.MessageEvent, priority int) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.queue.Enqueue(ctx, e.DedupKey(), priority, payload)
}

// RenewExpiring refreshes push subscriptions nearing expiry, mirroring the
// teacher's WatchRenewScheduler check loop.
func (c *Coordinator) RenewExpiring(ctx context.Context) error {
	cutoff := time.Now().Add(c.renewalMargin)
	expiring, err := c.subs.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, sub := range expiring {
		if err := c.renewOne(ctx, sub); err != nil {
			c.log.Warn().Err(err).Str("user_id", sub.UserID).Msg("watch renewal failed")
		}
	}
	return nil
}

func (c *Coordinator) renewOne(ctx context.Context, sub *domain.WatchSubscription) error {
	res, err := c.provider.StartWatch(ctx, sub.UserID, sub.Topic, nil)
	if err != nil {
		return err
	}
	sub.ExpiresAt = res.ExpiresAt
	sub.HistoryCursor = res.HistoryCursor
	sub.UpdatedAt = time.Now()
	return c.subs.Save(ctx, sub)
}

// GapSync runs one incremental history pass for a single user from the
// subscription's stored cursor, outside the poll cadence — the same pass
// PollOnce makes for each user. It does not re-read history older than that
// cursor or compare against stored mappings, and no scheduled job calls it.
func (c *Coordinator) GapSync(ctx context.Context, userID string) error {
	sub, err := c.subs.Get(ctx, userID)
	if err != nil {
		return err
	}
	return c.pollUser(ctx, userID, sub)
}
