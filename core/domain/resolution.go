package domain

// ResolutionAction is the outcome category a ProjectResolver decision falls
// into, driven by the score thresholds in §4.7.
type ResolutionAction string

const (
	ActionAutoAssign     ResolutionAction = "auto_assign"
	ActionAssignReview   ResolutionAction = "assign_review"
	ActionAmbiguous      ResolutionAction = "ambiguous"
	ActionMultiProject   ResolutionAction = "multi_project"
	ActionNewProject     ResolutionAction = "new_project"
)

// SignalMatch is one named piece of evidence contributed by a Signal, scaled
// by its configured weight.
type SignalMatch struct {
	Name   string
	Weight float64
	Detail string
}

// CandidateScore is one project's aggregate score for a given message.
type CandidateScore struct {
	ProjectID string
	Score     float64
	Matches   []SignalMatch
}

// ResolutionResult is the side-effect-free decision the resolver reaches;
// the caller (service layer) is responsible for persistence and event
// emission (§4.7 "side effects, in order").
type ResolutionResult struct {
	Action          ResolutionAction
	ProjectID       string // empty when Action == ActionNewProject and no seed exists yet
	Confidence      float64
	NeedsReview     bool
	SplitFromThread bool
	Candidates      []CandidateScore
	MultiProjectIDs []string
}
