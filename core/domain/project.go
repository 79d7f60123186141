package domain

import (
	"strings"
	"time"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectArchived  ProjectStatus = "archived"
)

type Address struct {
	Full     string
	Street   string
	Locality string
	Region   string
	Postcode string
}

// Matches reports whether two addresses are the same project location under
// the locale-agnostic default normalizer: street+postcode when both sides
// have a postcode, otherwise street+locality. See SPEC_FULL.md open-question
// decision on address normalization.
func (a Address) Matches(b Address) bool {
	sa, sb := NormalizeAddressToken(a.Street), NormalizeAddressToken(b.Street)
	if sa == "" || sb == "" || sa != sb {
		return false
	}
	if a.Postcode != "" && b.Postcode != "" {
		return a.Postcode == b.Postcode
	}
	return NormalizeAddressToken(a.Locality) == NormalizeAddressToken(b.Locality) && NormalizeAddressToken(a.Locality) != ""
}

func NormalizeAddressToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type Contact struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

type Project struct {
	ID        string
	UserID    string
	Name      string
	Aliases   []string // case-folded, de-duplicated
	Address   Address
	JobNumbers []string
	Client    Contact
	Status    ProjectStatus

	EmailCount  int
	LastEmailAt time.Time

	CreationConfidence float64
	NeedsReview        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewProject(id, userID, name string, confidence float64) *Project {
	now := time.Now()
	return &Project{
		ID:                 id,
		UserID:             userID,
		Name:               name,
		Status:             ProjectActive,
		CreationConfidence: confidence,
		NeedsReview:        confidence < 0.60,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// AddAlias folds case, collapses whitespace and de-duplicates before storing.
func (p *Project) AddAlias(alias string) {
	norm := NormalizeNameToken(alias)
	if norm == "" || norm == NormalizeNameToken(p.Name) {
		return
	}
	for _, a := range p.Aliases {
		if NormalizeNameToken(a) == norm {
			return
		}
	}
	p.Aliases = append(p.Aliases, strings.ToLower(strings.Join(strings.Fields(alias), " ")))
	p.UpdatedAt = time.Now()
}

// MatchesNameOrAlias compares after case-folding, whitespace collapse and
// punctuation stripping, per §4.7 signal 4.
func (p *Project) MatchesNameOrAlias(name string) bool {
	n := NormalizeNameToken(name)
	if n == "" {
		return false
	}
	if n == NormalizeNameToken(p.Name) {
		return true
	}
	for _, a := range p.Aliases {
		if NormalizeNameToken(a) == n {
			return true
		}
	}
	return false
}

func NormalizeNameToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func (p *Project) HasJobNumber(jn string) bool {
	for _, j := range p.JobNumbers {
		if strings.EqualFold(j, jn) {
			return true
		}
	}
	return false
}

func (p *Project) AddJobNumber(jn string) {
	if jn == "" || p.HasJobNumber(jn) {
		return
	}
	p.JobNumbers = append(p.JobNumbers, jn)
	p.UpdatedAt = time.Now()
}

// RecordMapping updates aggregate counters after a new active mapping lands
// on this project. Invariant (§3): EmailCount equals the active-mapping count
// and LastEmailAt is the max mapping timestamp — callers recompute from the
// Metastore rather than trusting in-memory drift across processes.
func (p *Project) RecordMapping(at time.Time) {
	p.EmailCount++
	if at.After(p.LastEmailAt) {
		p.LastEmailAt = at
	}
	p.UpdatedAt = time.Now()
}

func (p *Project) Archive() {
	p.Status = ProjectArchived
	p.UpdatedAt = time.Now()
}
