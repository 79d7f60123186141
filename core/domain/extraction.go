package domain

// ExtractedEntities is the structured output of the EntityExtractor (§4.5).
type ExtractedEntities struct {
	ProjectNames     []ScoredProjectName
	Address          *ScoredAddress
	JobNumbers       []ScoredJobNumber
	Client           ScoredClient
	ProjectType      string
	Keywords         []string
	OverallConfidence float64
}

type ScoredProjectName struct {
	Value      string
	Confidence float64
	Aliases    []string
}

type ScoredAddress struct {
	Full       string
	Street     string
	Locality   string
	Region     string
	Postcode   string
	Confidence float64
}

type JobNumberSource string

const (
	JobNumberFromSubject          JobNumberSource = "subject"
	JobNumberFromBody             JobNumberSource = "body"
	JobNumberFromSignature        JobNumberSource = "signature"
	JobNumberFromAttachmentFilename JobNumberSource = "attachment-filename"
)

type ScoredJobNumber struct {
	Value      string
	Source     JobNumberSource
	Confidence float64
}

type ScoredClient struct {
	Name       string
	Email      string
	Phone      string
	Company    string
	Confidence float64
}

// SimilarityIndicators records which signals agreed when comparing two messages.
type SimilarityIndicators struct {
	ProjectName bool
	Address     bool
	JobNumber   bool
	Client      bool
	Content     bool
}

type SimilarityResult struct {
	SameProject bool
	Score       float64
	Indicators  SimilarityIndicators
	Reason      string
}
