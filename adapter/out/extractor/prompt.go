package extractor

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an information extraction assistant for a construction/trades email
inbox. Given one email, identify the project it most likely concerns.

Extract:
- project_names: candidate project names or site names mentioned (may be several)
- address: the site/job address, if any
- job_numbers: any job, quote, or reference numbers, tagged with where you found them
- client: the customer or point of contact
- project_type: a short label such as "renovation", "new build", "repair"
- keywords: a handful of distinguishing terms from the email
- overall_confidence: your confidence (0-1) that the extraction is accurate and complete

Respond with a single JSON object matching this exact shape, nothing else:
{
  "project_names": [{"value": "...", "confidence": 0.0, "aliases": ["..."]}],
  "address": {"full": "...", "street": "...", "locality": "...", "region": "...", "postcode": "...", "confidence": 0.0},
  "job_numbers": [{"value": "...", "source": "subject|body|signature|attachment-filename", "confidence": 0.0}],
  "client": {"name": "...", "email": "...", "phone": "...", "company": "...", "confidence": 0.0},
  "project_type": "...",
  "keywords": ["..."],
  "overall_confidence": 0.0
}

If a field cannot be determined, omit it or use an empty value. Never invent addresses or job numbers.`

const strictRetrySuffix = `

Your previous response did not parse as valid JSON matching the required schema.
Return ONLY the JSON object described above, with no markdown fences, no commentary,
and no trailing text before or after it.`

func buildUserPrompt(subject, body, senderName, senderEmail string, hints []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\n", senderName, senderEmail)
	fmt.Fprintf(&b, "Subject: %s\n\n", subject)
	b.WriteString(truncate(body, 6000))
	if len(hints) > 0 {
		b.WriteString("\n\nKnown existing project names for this mailbox (prefer matching one of these if the email is ambiguous): ")
		b.WriteString(strings.Join(hints, ", "))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
