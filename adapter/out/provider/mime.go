package provider

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"google.golang.org/api/gmail/v1"

	"mailgrouper/core/domain"
)

// convertMessage turns a raw Gmail message into the derived Message
// projection (§3). Only the headers and parts the resolver or audit trail
// ever reads are kept — no RFC classification or ESP-detection headers,
// since nothing downstream of C2 consumes them.
func convertMessage(msg *gmail.Message) *domain.Message {
	m := &domain.Message{
		ProviderID: msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		LabelIDs:   msg.LabelIds,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				m.Subject = h.Value
			case "From":
				m.From = parseEmailAddress(h.Value)
			case "To":
				m.To = parseEmailAddresses(h.Value)
			case "Cc":
				m.Cc = parseEmailAddresses(h.Value)
			case "Bcc":
				m.Bcc = parseEmailAddresses(h.Value)
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					m.Date = t
				}
			}
		}

		var body bodyParts
		extractBody(msg.Payload, &body, 0)
		m.BodyText = body.text()
		m.Attachments = extractAttachments(msg.Payload)
	}

	if m.Date.IsZero() {
		m.Date = time.UnixMilli(msg.InternalDate)
	}
	return m
}

type bodyParts struct {
	Text string
	HTML string
}

// text prefers the plain-text part; html-to-text normalization only runs
// when no text/plain part exists (§3 "normalized ... html-to-text when
// source was html").
func (b bodyParts) text() string {
	if strings.TrimSpace(b.Text) != "" {
		return b.Text
	}
	if strings.TrimSpace(b.HTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.HTML))
	if err != nil {
		return b.HTML
	}
	return strings.TrimSpace(doc.Text())
}

// extractBody walks the MIME tree depth-first, preferring the first
// text/plain part it finds but continuing to collect text/html as a
// fallback, since a multipart/alternative part can order them either way.
func extractBody(part *gmail.MessagePart, body *bodyParts, depth int) {
	if part == nil {
		return
	}
	if part.MimeType == "text/plain" && body.Text == "" && part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			body.Text = string(data)
		}
	}
	if part.MimeType == "text/html" && body.HTML == "" && part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			body.HTML = string(data)
		}
	}
	for _, p := range part.Parts {
		extractBody(p, body, depth+1)
	}
}

// extractAttachments recognizes a part as an attachment once it carries a
// filename, whether or not Gmail also handed back an attachment id (the
// id is absent on "metadata" format fetches).
func extractAttachments(part *gmail.MessagePart) []domain.AttachmentDescriptor {
	var attachments []domain.AttachmentDescriptor
	var walk func(p *gmail.MessagePart)
	walk = func(p *gmail.MessagePart) {
		if p == nil {
			return
		}
		if p.Filename != "" {
			var attachmentID string
			var size int64
			if p.Body != nil {
				attachmentID = p.Body.AttachmentId
				size = p.Body.Size
			}
			attachments = append(attachments, domain.AttachmentDescriptor{
				ProviderAttachmentID: attachmentID,
				Filename:             p.Filename,
				MimeType:             p.MimeType,
				Size:                 size,
				Category:             domain.CategorizeAttachment(p.MimeType, p.Filename),
			})
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(part)
	return attachments
}
