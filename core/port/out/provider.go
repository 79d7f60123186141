// Package out declares the interfaces the core depends on for everything
// outside its own process: the mail provider, the LLM extractor, storage and
// the durable queues. Concrete implementations live under adapter/out.
package out

import (
	"context"
	"time"

	"mailgrouper/core/domain"
)

// ProviderProfile is the authenticated mailbox's identity.
type ProviderProfile struct {
	EmailAddress      string
	HistoryID         string
	MessagesTotal     int64
}

type ListQuery struct {
	Query     string
	Cursor    string
	PageSize  int
}

type ListResult struct {
	MessageIDs []string
	NextCursor string
}

type ProviderLabel struct {
	ID     string
	Name   string
	Type   string // "system" | "user"
}

type HistoryResult struct {
	NewMessageIDs []string
	NextCursor    string
}

type WatchResult struct {
	Topic         string
	HistoryCursor string
	ExpiresAt     time.Time
}

// MailProvider is the full C2 surface. Implementations must map 429 to
// RateLimited, 403 quota_exceeded to a fatal-for-user error, and 401 to one
// refresh-then-retry before surfacing AuthExpired (§4.2).
type MailProvider interface {
	Profile(ctx context.Context, userID string) (*ProviderProfile, error)
	ListMessages(ctx context.Context, userID string, q ListQuery) (*ListResult, error)
	FetchMessage(ctx context.Context, userID, messageID string, includeBody bool) (*domain.Message, error)
	ListLabels(ctx context.Context, userID string) ([]ProviderLabel, error)
	CreateLabel(ctx context.Context, userID, name string) (*ProviderLabel, error)
	ModifyMessage(ctx context.Context, userID, messageID string, add, remove []string) error
	BatchModify(ctx context.Context, userID string, messageIDs []string, add, remove []string) error
	StartWatch(ctx context.Context, userID string, topic string, labelFilter []string) (*WatchResult, error)
	StopWatch(ctx context.Context, userID string) error
	GetHistory(ctx context.Context, userID, sinceCursor string) (*HistoryResult, error)
}

// CredentialRefresher refreshes a user's upstream OAuth credentials. Split
// out from MailProvider so the watch/resolver layers don't need the whole
// provider surface just to keep tokens fresh.
type CredentialRefresher interface {
	Refresh(ctx context.Context, userID string) (domain.Credentials, error)
}
