package resolver

import (
	"strings"

	"mailgrouper/core/domain"
)

// Signal weights, in priority order, per §4.7.
const (
	WeightAddress    = 0.45
	WeightJobNumber  = 0.35
	WeightThread     = 0.30
	WeightName       = 0.25
	WeightClient     = 0.15
	WeightSimilarity = 0.10

	LearningBonus = 0.10
)

// candidateContext carries the per-message facts every signal needs so none
// of them re-derive sender lists or thread consensus independently.
type candidateContext struct {
	threadConsensusProjectID string
	senderEmail              string
	senders                  map[string][]string // projectID -> seen sender emails
	similar                  map[string]bool      // projectID -> similarity hit
}

// matchAddress is signal 1: normalized address match (§4.7).
func matchAddress(p *domain.Project, e *domain.ExtractedEntities) (bool, string) {
	if e.Address == nil {
		return false, ""
	}
	cand := domain.Address{Street: e.Address.Street, Locality: e.Address.Locality, Postcode: e.Address.Postcode}
	if p.Address.Matches(cand) {
		return true, "address: " + e.Address.Street
	}
	return false, ""
}

// matchJobNumber is signal 2.
func matchJobNumber(p *domain.Project, e *domain.ExtractedEntities) (bool, string) {
	for _, jn := range e.JobNumbers {
		if p.HasJobNumber(jn.Value) {
			return true, "job_number: " + jn.Value
		}
	}
	return false, ""
}

// matchThread is signal 3.
func matchThread(p *domain.Project, cc candidateContext) (bool, string) {
	if cc.threadConsensusProjectID != "" && cc.threadConsensusProjectID == p.ID {
		return true, "thread consensus"
	}
	return false, ""
}

// matchName is signal 4.
func matchName(p *domain.Project, e *domain.ExtractedEntities) (bool, string) {
	for _, n := range e.ProjectNames {
		if p.MatchesNameOrAlias(n.Value) {
			return true, "name: " + n.Value
		}
	}
	return false, ""
}

// matchClient is signal 5: sender identity only contributes here — the
// resolver must not refuse a new sender elsewhere (§4.7 multi-sender rule).
func matchClient(p *domain.Project, e *domain.ExtractedEntities, cc candidateContext) (bool, string) {
	if e.Client.Email != "" && strings.EqualFold(e.Client.Email, p.Client.Email) {
		return true, "client email match"
	}
	for _, s := range cc.senders[p.ID] {
		if cc.senderEmail != "" && strings.EqualFold(s, cc.senderEmail) {
			return true, "sender previously seen on project"
		}
	}
	return false, ""
}

// matchSimilarity is signal 6, computed ahead of time by the caller (it
// requires LLM calls) and passed in via candidateContext.similar.
func matchSimilarity(p *domain.Project, cc candidateContext) (bool, string) {
	if cc.similar[p.ID] {
		return true, "similarity >= 0.8 vs recent project message"
	}
	return false, ""
}
