package resolver

import (
	"strings"

	"mailgrouper/core/domain"
)

// applyLearning implements §4.7's "learning integration": before scoring,
// active LearningPatterns bias specific projects. An alias pattern promotes
// a partial name match to full signal-4 weight; sender/address patterns add
// a fixed bonus. Patterns are per-user and consulted per-candidate.
func applyLearning(patterns []*domain.LearningPattern, p *domain.Project, e *domain.ExtractedEntities, nameAlreadyMatched bool) (bonus float64, details []string) {
	for _, pat := range patterns {
		if !pat.Active || pat.ProjectID != p.ID {
			continue
		}
		switch pat.Type {
		case domain.PatternAlias:
			if nameAlreadyMatched {
				continue
			}
			alias := strings.ToLower(pat.Body["alias"])
			for _, n := range e.ProjectNames {
				normName := domain.NormalizeNameToken(n.Value)
				if alias != "" && (strings.Contains(normName, alias) || strings.Contains(alias, normName)) {
					bonus += WeightName
					details = append(details, "alias pattern promoted name match")
					break
				}
			}
		case domain.PatternSenderProject:
			domainPart := strings.ToLower(pat.Body["sender_domain"])
			if domainPart != "" && strings.HasSuffix(strings.ToLower(e.Client.Email), "@"+domainPart) {
				bonus += LearningBonus
				details = append(details, "sender pattern bonus")
			}
		case domain.PatternAddressProject:
			addr := strings.ToLower(pat.Body["address"])
			if e.Address != nil && addr != "" && strings.Contains(strings.ToLower(e.Address.Street), addr) {
				bonus += LearningBonus
				details = append(details, "address pattern bonus")
			}
		}
	}
	return bonus, details
}
