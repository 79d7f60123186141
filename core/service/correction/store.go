// Package correction implements the CorrectionStore (C9, §4.9): an
// append-only log of user overrides, plus the background pass that mines
// repeated corrections into LearningPatterns. The mining heuristic
// (count occurrences, promote once support crosses a threshold) is grounded
// on the teacher's AutoLabelService.extractPatterns
// (core/service/classification/worker_auto_label.go).
package correction

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/snowflake"
)

type Store struct {
	corrections out.CorrectionRepository
	patterns    out.PatternRepository
	mappings    out.MappingRepository
	projects    out.ProjectRepository
	ids         *snowflake.Generator
	log         zerolog.Logger

	minSupport int
}

// New takes a snowflake.Generator for Correction/LearningPattern ids: both
// are append-only, time-ordered logs where a sortable id is worth more than
// a random one, unlike the user-facing Project id (uuid).
func New(corrections out.CorrectionRepository, patterns out.PatternRepository, mappings out.MappingRepository, projects out.ProjectRepository, ids *snowflake.Generator, minSupport int, log zerolog.Logger) *Store {
	return &Store{
		corrections: corrections,
		patterns:    patterns,
		mappings:    mappings,
		projects:    projects,
		ids:         ids,
		minSupport:  minSupport,
		log:         log.With().Str("component", "correction").Logger(),
	}
}

func (s *Store) nextID() string {
	return s.ids.NewID()
}

// correctedFields is the shape Record* stores in Correction.CorrectedResult;
// the mining pass reads the same keys back out.
type correctedFields struct {
	ProjectName  string
	SenderDomain string
	AddressToken string
}

func toMap(f correctedFields) map[string]any {
	m := map[string]any{}
	if f.ProjectName != "" {
		m["project_name"] = f.ProjectName
	}
	if f.SenderDomain != "" {
		m["sender_domain"] = f.SenderDomain
	}
	if f.AddressToken != "" {
		m["address_token"] = f.AddressToken
	}
	return m
}

// RecordAssign appends an assign/unassign correction. senderEmail and
// extractedName capture what the resolver saw so the mining pass can derive
// alias/sender patterns without re-deriving them from raw messages later.
func (s *Store) RecordAssign(ctx context.Context, userID, messageID, fromProjectID, toProjectID, senderEmail, extractedName, reason string) error {
	original := map[string]any{"project_id": fromProjectID}
	corrected := toMap(correctedFields{ProjectName: extractedName, SenderDomain: domainOf(senderEmail)})
	corrected["project_id"] = toProjectID

	c := domain.NewCorrection(s.nextID(), userID, domain.CorrectionAssign, original, corrected, reason)
	c.MessageID = messageID
	c.ProjectID = toProjectID
	return s.corrections.Append(ctx, c)
}

func (s *Store) RecordUnassign(ctx context.Context, userID, messageID, fromProjectID, reason string) error {
	c := domain.NewCorrection(s.nextID(), userID, domain.CorrectionUnassign,
		map[string]any{"project_id": fromProjectID}, map[string]any{"project_id": ""}, reason)
	c.MessageID = messageID
	c.ProjectID = fromProjectID
	return s.corrections.Append(ctx, c)
}

func (s *Store) RecordRename(ctx context.Context, userID, projectID, oldName, newName, reason string) error {
	c := domain.NewCorrection(s.nextID(), userID, domain.CorrectionRename,
		map[string]any{"name": oldName}, map[string]any{"name": newName}, reason)
	c.ProjectID = projectID
	return s.corrections.Append(ctx, c)
}

// Merge repoints every active mapping from source onto target, recomputes
// both projects' counters, archives source, and records a Correction.
func (s *Store) Merge(ctx context.Context, userID, sourceProjectID, targetProjectID, reason string) error {
	active, err := s.mappings.ListActiveByProject(ctx, userID, sourceProjectID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(active))
	for _, m := range active {
		ids = append(ids, m.MessageID)
	}
	if len(ids) > 0 {
		if err := s.mappings.Repoint(ctx, userID, ids, targetProjectID); err != nil {
			return err
		}
	}
	if err := s.projects.RecomputeCounters(ctx, userID, sourceProjectID); err != nil {
		return err
	}
	if err := s.projects.RecomputeCounters(ctx, userID, targetProjectID); err != nil {
		return err
	}
	source, err := s.projects.Get(ctx, userID, sourceProjectID)
	if err == nil {
		source.Archive()
		_ = s.projects.Update(ctx, source)
	}

	c := domain.NewCorrection(s.nextID(), userID, domain.CorrectionMerge,
		map[string]any{"project_id": sourceProjectID}, map[string]any{"project_id": targetProjectID}, reason)
	c.ProjectID = targetProjectID
	return s.corrections.Append(ctx, c)
}

// Split creates a new project and repoints the named messages onto it,
// leaving the source project's remaining mappings untouched (E5).
func (s *Store) Split(ctx context.Context, userID, sourceProjectID string, messageIDs []string, newName, reason string) (*domain.Project, error) {
	newProject := domain.NewProject(uuid.NewString(), userID, newName, 1.0)
	if err := s.projects.Create(ctx, newProject); err != nil {
		return nil, err
	}
	if err := s.mappings.Repoint(ctx, userID, messageIDs, newProject.ID); err != nil {
		return nil, err
	}
	if err := s.projects.RecomputeCounters(ctx, userID, sourceProjectID); err != nil {
		return nil, err
	}
	if err := s.projects.RecomputeCounters(ctx, userID, newProject.ID); err != nil {
		return nil, err
	}

	c := domain.NewCorrection(s.nextID(), userID, domain.CorrectionSplit,
		map[string]any{"project_id": sourceProjectID, "message_ids": messageIDs},
		map[string]any{"project_id": newProject.ID}, reason)
	c.ProjectID = newProject.ID
	if err := s.corrections.Append(ctx, c); err != nil {
		return nil, err
	}
	return newProject, nil
}

// ProcessCorrections runs one mining pass (Scheduler cadence): group
// unprocessed assign corrections by (project, signal value), and once a
// group's support reaches minSupport, upsert the corresponding
// LearningPattern. Ambiguous or single-occurrence groups emit nothing
// (§4.9 "never guesses intent ... when ambiguous, no pattern is emitted").
func (s *Store) ProcessCorrections(ctx context.Context, userID string, limit int) (int, error) {
	pending, err := s.corrections.ListUnprocessed(ctx, userID, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	type key struct {
		projectID string
		typ       domain.PatternType
		value     string
	}
	counts := make(map[key]int)

	for _, c := range pending {
		if c.Type != domain.CorrectionAssign {
			continue
		}
		projectID, _ := c.CorrectedResult["project_id"].(string)
		if projectID == "" {
			continue
		}
		if name, ok := c.CorrectedResult["project_name"].(string); ok && name != "" {
			counts[key{projectID, domain.PatternAlias, strings.ToLower(domain.NormalizeNameToken(name))}]++
		}
		if domainPart, ok := c.CorrectedResult["sender_domain"].(string); ok && domainPart != "" {
			counts[key{projectID, domain.PatternSenderProject, domainPart}]++
		}
		if addr, ok := c.CorrectedResult["address_token"].(string); ok && addr != "" {
			counts[key{projectID, domain.PatternAddressProject, addr}]++
		}
	}

	// A (type, value) pair that corrections tie to more than one project is
	// ambiguous and yields no pattern for any of them.
	owners := make(map[key]int)
	for k := range counts {
		owners[key{"", k.typ, k.value}]++
	}

	for k, count := range counts {
		if count < s.minSupport || owners[key{"", k.typ, k.value}] > 1 {
			continue
		}
		confidence := 0.70 + float64(count)*0.05
		if confidence > 0.99 {
			confidence = 0.99
		}
		var body map[string]string
		switch k.typ {
		case domain.PatternAlias:
			body = map[string]string{"alias": k.value}
		case domain.PatternSenderProject:
			body = map[string]string{"sender_domain": k.value}
		case domain.PatternAddressProject:
			body = map[string]string{"address": k.value}
		}
		p := domain.NewLearningPattern(s.nextID(), userID, k.projectID, k.typ, body, confidence)
		if err := s.patterns.Upsert(ctx, p); err != nil {
			s.log.Warn().Err(err).Msg("failed to upsert learning pattern")
		}
	}

	for _, c := range pending {
		if err := s.corrections.MarkProcessed(ctx, c.ID); err != nil {
			s.log.Warn().Err(err).Str("correction_id", c.ID).Msg("failed to mark correction processed")
		}
	}

	return len(pending), nil
}

func domainOf(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}
