package domain

import "time"

// MessageSnapshot is the durable audit projection of a Message (§3: "only
// the fields the resolver or audit needs ... are stored; bodies are held
// only for the duration of one processing attempt"). It backs both the
// audit trail and the similarity signal's sampling of recent project
// messages (§4.7 signal 6).
type MessageSnapshot struct {
	MessageID   string
	ThreadID    string
	ProjectID   string
	Subject     string
	SenderEmail string
	Snippet     string
	LabelIDs    []string
	CreatedAt   time.Time
}
