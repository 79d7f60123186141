// Package project implements the in.ProjectService the HTTP layer calls for
// every manual project operation (§6): list/get, assign/unassign a message,
// patch name/alias/status, merge, split. Every mutation that overrides a
// resolver decision is recorded through core/service/correction.Store so
// the learning pass (C9) can eventually pick it up.
package project

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/in"
	"mailgrouper/core/port/out"
	"mailgrouper/core/service/correction"
	"mailgrouper/pkg/apperr"
)

type Service struct {
	projects    out.ProjectRepository
	mappings    out.MappingRepository
	corrections *correction.Store
	log         zerolog.Logger
}

func New(projects out.ProjectRepository, mappings out.MappingRepository, corrections *correction.Store, log zerolog.Logger) *Service {
	return &Service{
		projects:    projects,
		mappings:    mappings,
		corrections: corrections,
		log:         log.With().Str("component", "project").Logger(),
	}
}

func (s *Service) List(ctx context.Context, userID string, status domain.ProjectStatus) ([]*domain.Project, error) {
	return s.projects.List(ctx, userID, out.ProjectFilter{Status: status})
}

func (s *Service) Get(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	return s.projects.Get(ctx, userID, projectID)
}

// ListNeedsReview exposes mappings the resolver couldn't settle on its own,
// including multi_project_detected ones awaiting a human pick (§6).
func (s *Service) ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error) {
	return s.mappings.ListNeedsReview(ctx, userID)
}

// AssignEmail manually (re-)points one message at a project, overriding
// whatever the resolver decided (§6 POST /projects/{id}/emails).
func (s *Service) AssignEmail(ctx context.Context, userID, projectID, messageID, reason string) error {
	fromProjectID := ""
	if existing, err := s.mappings.Get(ctx, userID, messageID); err == nil {
		fromProjectID = existing.ProjectID
	}

	mapping := domain.NewMapping(uuid.NewString(), userID, messageID, "", projectID, 1.0, domain.AssociationManual)
	if err := s.mappings.ResolveMessage(ctx, mapping); err != nil {
		return err
	}
	if err := s.projects.RecomputeCounters(ctx, userID, projectID); err != nil {
		return err
	}
	if fromProjectID != "" && fromProjectID != projectID {
		if err := s.projects.RecomputeCounters(ctx, userID, fromProjectID); err != nil {
			s.log.Warn().Err(err).Str("project_id", fromProjectID).Msg("counter recompute failed")
		}
	}
	return s.corrections.RecordAssign(ctx, userID, messageID, fromProjectID, projectID, "", "", reason)
}

// UnassignEmail deactivates a message's mapping without assigning a
// replacement, leaving it for manual triage (§6 DELETE /projects/{id}/emails/{mid}).
func (s *Service) UnassignEmail(ctx context.Context, userID, projectID, messageID, reason string) error {
	if err := s.mappings.Deactivate(ctx, userID, messageID); err != nil {
		return err
	}
	if err := s.projects.RecomputeCounters(ctx, userID, projectID); err != nil {
		return err
	}
	return s.corrections.RecordUnassign(ctx, userID, messageID, projectID, reason)
}

// Patch applies a partial update (§6 PATCH /projects/{id}). A name change is
// recorded as a rename correction; alias/status changes are not corrections
// in their own right since they don't override a resolver decision.
func (s *Service) Patch(ctx context.Context, userID, projectID string, patch in.ProjectPatch) error {
	p, err := s.projects.Get(ctx, userID, projectID)
	if err != nil {
		return err
	}

	if patch.Name != nil && *patch.Name != "" && *patch.Name != p.Name {
		oldName := p.Name
		p.Name = *patch.Name
		if err := s.corrections.RecordRename(ctx, userID, projectID, oldName, *patch.Name, "manual rename"); err != nil {
			s.log.Warn().Err(err).Msg("failed to record rename correction")
		}
	}
	if patch.Alias != nil && *patch.Alias != "" {
		p.AddAlias(*patch.Alias)
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	return s.projects.Update(ctx, p)
}

func (s *Service) Merge(ctx context.Context, userID, sourceID, targetID, reason string) error {
	if sourceID == targetID {
		return apperr.BadRequest("cannot merge a project into itself")
	}
	return s.corrections.Merge(ctx, userID, sourceID, targetID, reason)
}

func (s *Service) Split(ctx context.Context, userID, sourceID string, messageIDs []string, newName, reason string) error {
	if len(messageIDs) == 0 {
		return apperr.BadRequest("split requires at least one message id")
	}
	_, err := s.corrections.Split(ctx, userID, sourceID, messageIDs, newName, reason)
	return err
}

var _ in.ProjectService = (*Service)(nil)
