package provider

import (
	"encoding/base64"
	"testing"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"mailgrouper/pkg/apperr"
)

func TestParseEmailAddress(t *testing.T) {
	a := parseEmailAddress(`"Jane Doe" <jane@example.com>`)
	if a.Name != "Jane Doe" || a.Mailbox != "jane@example.com" {
		t.Fatalf("unexpected address: %+v", a)
	}

	b := parseEmailAddress("not-an-address")
	if b.Mailbox != "not-an-address" {
		t.Fatalf("expected fallback mailbox, got %+v", b)
	}
}

func TestParseEmailAddresses(t *testing.T) {
	list := parseEmailAddresses("a@example.com, \"B\" <b@example.com>")
	if len(list) != 2 || list[1].Name != "B" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestDedupStrings(t *testing.T) {
	got := dedupStrings([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 {
		t.Fatalf("expected 3 unique entries, got %v", got)
	}
}

func TestMapGmailError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		code string
	}{
		{"rate limited", &googleapi.Error{Code: 429}, apperr.CodeRateLimited},
		{"quota exceeded", &googleapi.Error{Code: 403, Message: "Quota exceeded for user"}, apperr.CodeForbidden},
		{"unauthorized", &googleapi.Error{Code: 401}, apperr.CodeAuthExpired},
		{"not found", &googleapi.Error{Code: 404}, apperr.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := apperr.AsAppError(mapGmailError(tc.in))
			if mapped == nil || mapped.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, mapped)
			}
		})
	}
}

func TestConvertMessageExtractsPlainTextOverHTML(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Re: Foundation pour"},
				{Name: "From", Value: "Builder <builder@example.com>"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("plain body"))},
				},
				{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>html body</p>"))},
				},
				{
					Filename: "invoice.pdf",
					MimeType: "application/pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att1", Size: 1024},
				},
			},
		},
	}

	got := convertMessage(msg)
	if got.BodyText != "plain body" {
		t.Fatalf("expected plain-text body to win, got %q", got.BodyText)
	}
	if got.Subject != "Re: Foundation pour" {
		t.Fatalf("unexpected subject: %q", got.Subject)
	}
	if got.From.Mailbox != "builder@example.com" {
		t.Fatalf("unexpected from: %+v", got.From)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Filename != "invoice.pdf" {
		t.Fatalf("unexpected attachments: %+v", got.Attachments)
	}
}

func TestConvertMessageFallsBackToHTML(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>only html <b>here</b></p>"))},
		},
	}
	got := convertMessage(msg)
	if got.BodyText != "only html here" {
		t.Fatalf("expected html stripped to text, got %q", got.BodyText)
	}
}
