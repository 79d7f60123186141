// Package in declares the inbound service interfaces adapter/in/http calls
// into. They exist so handlers depend on behaviour, not concrete services.
package in

import (
	"context"
	"time"

	"mailgrouper/core/domain"
)

type ProjectService interface {
	List(ctx context.Context, userID string, status domain.ProjectStatus) ([]*domain.Project, error)
	Get(ctx context.Context, userID, projectID string) (*domain.Project, error)
	AssignEmail(ctx context.Context, userID, projectID, messageID, reason string) error
	UnassignEmail(ctx context.Context, userID, projectID, messageID, reason string) error
	Patch(ctx context.Context, userID, projectID string, patch ProjectPatch) error
	Merge(ctx context.Context, userID, sourceID, targetID, reason string) error
	Split(ctx context.Context, userID, sourceID string, messageIDs []string, newName, reason string) error
	// ListNeedsReview surfaces mappings awaiting a human decision, including
	// multi_project_detected ones the resolver couldn't assign on its own.
	ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error)
}

type ProjectPatch struct {
	Name    *string
	Alias   *string
	Status  *domain.ProjectStatus
}

type ScanService interface {
	OnDemand(ctx context.Context, userID string, limit int) (int, error)
	Retroactive(ctx context.Context, userID string, start, end time.Time) error
}

type QueueOpsService interface {
	Stats(ctx context.Context) (map[string]any, error)
	ProcessOne(ctx context.Context) (bool, error)
	ListDead(ctx context.Context, queue string, limit int) ([]map[string]any, error)
}

type WebhookService interface {
	HandlePushNotification(ctx context.Context, userID string, rawEnvelope []byte) error
}
