package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// SubscriptionAdapter implements out.SubscriptionRepository using
// PostgreSQL — the C3 WatchCoordinator's persistence for the single active
// push/poll subscription per user (§4.3 invariant).
type SubscriptionAdapter struct {
	db *sqlx.DB
}

func NewSubscriptionAdapter(db *sqlx.DB) *SubscriptionAdapter {
	return &SubscriptionAdapter{db: db}
}

type subscriptionRow struct {
	UserID        string       `db:"user_id"`
	Topic         string       `db:"topic"`
	HistoryCursor string       `db:"history_cursor"`
	ExpiresAt     sql.NullTime `db:"expires_at"`
	Kind          string       `db:"kind"`
	LastPushAt    sql.NullTime `db:"last_push_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r *subscriptionRow) toEntity() *domain.WatchSubscription {
	s := &domain.WatchSubscription{
		UserID:        r.UserID,
		Topic:         r.Topic,
		HistoryCursor: r.HistoryCursor,
		Kind:          domain.WatchKind(r.Kind),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ExpiresAt.Valid {
		s.ExpiresAt = r.ExpiresAt.Time
	}
	if r.LastPushAt.Valid {
		s.LastPushAt = r.LastPushAt.Time
	}
	return s
}

func (a *SubscriptionAdapter) Get(ctx context.Context, userID string) (*domain.WatchSubscription, error) {
	var row subscriptionRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM watch_subscriptions WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("watch subscription")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get watch subscription", err)
	}
	return row.toEntity(), nil
}

func (a *SubscriptionAdapter) Save(ctx context.Context, s *domain.WatchSubscription) error {
	s.UpdatedAt = time.Now()
	query := `
		INSERT INTO watch_subscriptions (user_id, topic, history_cursor, expires_at, kind, last_push_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id) DO UPDATE SET
			topic = EXCLUDED.topic,
			history_cursor = EXCLUDED.history_cursor,
			expires_at = EXCLUDED.expires_at,
			kind = EXCLUDED.kind,
			last_push_at = EXCLUDED.last_push_at,
			updated_at = EXCLUDED.updated_at`
	_, err := a.db.ExecContext(ctx, query,
		s.UserID, s.Topic, s.HistoryCursor, nullTime(s.ExpiresAt), string(s.Kind), nullTime(s.LastPushAt), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("save watch subscription", err)
	}
	return nil
}

func (a *SubscriptionAdapter) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*domain.WatchSubscription, error) {
	var rows []subscriptionRow
	query := `SELECT * FROM watch_subscriptions WHERE kind = 'push' AND expires_at < $1`
	if err := a.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, apperr.DatabaseError("list expiring subscriptions", err)
	}
	return toSubscriptionEntities(rows), nil
}

func (a *SubscriptionAdapter) ListAll(ctx context.Context) ([]*domain.WatchSubscription, error) {
	var rows []subscriptionRow
	if err := a.db.SelectContext(ctx, &rows, `SELECT * FROM watch_subscriptions`); err != nil {
		return nil, apperr.DatabaseError("list all subscriptions", err)
	}
	return toSubscriptionEntities(rows), nil
}

func toSubscriptionEntities(rows []subscriptionRow) []*domain.WatchSubscription {
	result := make([]*domain.WatchSubscription, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result
}

var _ out.SubscriptionRepository = (*SubscriptionAdapter)(nil)
