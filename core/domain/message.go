package domain

import "time"

// EventSource records why a MessageEvent was produced, per §4.3.
type EventSource string

const (
	SourcePush  EventSource = "push"
	SourcePoll  EventSource = "poll"
	SourceRetro EventSource = "retro"
)

// MessageEvent is transient: it lives in the NotificationQueue (C4) until
// resolved or dead-lettered and is never persisted to the Metastore.
type MessageEvent struct {
	UserID         string
	MessageID      string
	ThreadID       string
	HistoryCursor  string
	ArrivedAt      time.Time
	Source         EventSource
	DeliveryAttempt int
}

// DedupKey is the (user, message_id, history_cursor) tuple the NotificationQueue
// deduplicates enqueues on, per §4.4.
func (e MessageEvent) DedupKey() string {
	return e.UserID + "|" + e.MessageID + "|" + e.HistoryCursor
}

type EmailAddress struct {
	Name    string
	Mailbox string
}

type AttachmentCategory string

const (
	AttachmentDocument   AttachmentCategory = "document"
	AttachmentSpreadsheet AttachmentCategory = "spreadsheet"
	AttachmentImage      AttachmentCategory = "image"
	AttachmentDrawing    AttachmentCategory = "drawing"
	AttachmentArchive    AttachmentCategory = "archive"
	AttachmentOther      AttachmentCategory = "other"
)

type AttachmentDescriptor struct {
	MessageID          string
	ProviderAttachmentID string
	Filename           string
	MimeType           string
	Size               int64
	Category           AttachmentCategory
	ProjectID          string // weak reference, resolved when the message resolves
}

// Message is the derived, in-flight projection of a provider message. Only the
// fields the resolver or audit trail needs are retained (§3) — bodies are held
// only for the duration of one processing attempt and never persisted verbatim.
type Message struct {
	ProviderID     string
	ThreadID       string
	From           EmailAddress
	To             []EmailAddress
	Cc             []EmailAddress
	Bcc            []EmailAddress
	Subject        string
	Date           time.Time
	BodyText       string // normalized (html-to-text when source was html)
	Snippet        string
	LabelIDs       []string
	Attachments    []AttachmentDescriptor
}

func CategorizeAttachment(mimeType, filename string) AttachmentCategory {
	switch {
	case hasAnySuffix(filename, ".doc", ".docx", ".pdf", ".txt"):
		return AttachmentDocument
	case hasAnySuffix(filename, ".xls", ".xlsx", ".csv"):
		return AttachmentSpreadsheet
	case hasAnySuffix(filename, ".png", ".jpg", ".jpeg", ".gif", ".heic"):
		return AttachmentImage
	case hasAnySuffix(filename, ".dwg", ".dxf"):
		return AttachmentDrawing
	case hasAnySuffix(filename, ".zip", ".rar", ".7z", ".tar", ".gz"):
		return AttachmentArchive
	default:
		return AttachmentOther
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	low := toLower(s)
	for _, suf := range suffixes {
		if len(low) >= len(suf) && low[len(low)-len(suf):] == suf {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
