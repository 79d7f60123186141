package domain

import "time"

type WatchKind string

const (
	WatchPush    WatchKind = "push"
	WatchPolling WatchKind = "polling"
)

// WatchSubscription tracks the one active push/poll subscription a user may
// have at a time (§4.3 invariant: at most one active subscription per user).
type WatchSubscription struct {
	UserID      string
	Topic       string
	HistoryCursor string
	ExpiresAt   time.Time
	Kind        WatchKind
	LastPushAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewPushWatch(userID, topic string, expiresAt time.Time, cursor string) *WatchSubscription {
	now := time.Now()
	return &WatchSubscription{
		UserID:        userID,
		Topic:         topic,
		HistoryCursor: cursor,
		ExpiresAt:     expiresAt,
		Kind:          WatchPush,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NeedsRenewal reports whether the subscription is within margin of expiry.
func (w *WatchSubscription) NeedsRenewal(margin time.Duration) bool {
	return w.Kind == WatchPush && time.Until(w.ExpiresAt) <= margin
}

// RecentlyPushed reports whether a push-driven event landed within interval,
// used by the poll path to skip users already covered by push (§4.3).
func (w *WatchSubscription) RecentlyPushed(interval time.Duration) bool {
	return w.Kind == WatchPush && time.Since(w.LastPushAt) < interval
}
