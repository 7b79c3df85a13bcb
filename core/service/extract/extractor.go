// Package extract turns one email into a structured Extraction by prompting
// the local model and repairing its JSON output.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
	"mailmind/pkg/jsonrepair"
)

const systemPrompt = `You are an email analysis AI. Analyze the email and extract structured information.

Respond with this exact JSON format and nothing else:
{
  "summary": "one to three sentence summary",
  "events": [{"title": "meeting title", "start_time": "ISO 8601 or human readable", "end_time": "", "location": "", "attendees": ["email1"], "description": "", "meeting_url": ""}],
  "tasks": [{"title": "action item", "due_date": "", "priority": "low|normal|high", "description": ""}],
  "contacts": [{"name": "", "email": "", "phone": "", "company": "", "title": ""}],
  "tags": ["topic tags"],
  "reply": "suggested short reply if one is clearly expected, else empty",
  "forward_summary": "one line suitable when forwarding, else empty"
}

Omit or leave empty any field with nothing to report. Do not invent details.`

// Options tunes a single extraction run. Values come from the live settings
// snapshot taken when the item is dequeued.
type Options struct {
	Model           string
	ContextTokens   int
	MaxOutputTokens int
	Temperature     float64
}

// Extractor drives the prompt → generate → repair → normalize pipeline. It
// is stateless; concurrency control lives with the caller.
type Extractor struct {
	llm out.Inference
	log zerolog.Logger
}

func New(llm out.Inference, log zerolog.Logger) *Extractor {
	return &Extractor{
		llm: llm,
		log: log.With().Str("component", "extractor").Logger(),
	}
}

// promptBudget converts a context window in tokens to a rough character
// budget for the email body, reserving room for the instructions and the
// envelope lines. Roughly four characters per token.
func promptBudget(contextTokens int) int {
	if contextTokens <= 0 {
		contextTokens = 8192
	}
	budget := contextTokens*4 - len(systemPrompt) - 512
	if budget < 1000 {
		budget = 1000
	}
	return budget
}

func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen] + "..."
}

// Extract analyzes one email and returns a normalized result. Transport and
// timeout failures pass through with their apperr codes intact; unusable
// model output maps to an item-level malformed-output error.
func (e *Extractor) Extract(ctx context.Context, msg *domain.MailMessage, body string, opts Options) (*domain.Extraction, error) {
	prompt := fmt.Sprintf("%s\n\nFrom: %s\nSubject: %s\nDate: %s\n\nBody:\n%s",
		systemPrompt,
		msg.From,
		msg.Subject,
		msg.ReceivedAt.Format(time.RFC1123),
		truncateBody(body, promptBudget(opts.ContextTokens)),
	)

	start := time.Now()
	resp, err := e.llm.Generate(ctx, prompt, out.GenerateOptions{
		Model:           opts.Model,
		ContextTokens:   opts.ContextTokens,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var result domain.Extraction
	if err := jsonrepair.UnmarshalObject(resp, &result); err != nil {
		e.log.Warn().Err(err).
			Str("messageId", msg.ID).
			Int("responseLen", len(resp)).
			Msg("model output unusable")
		switch {
		case errors.Is(err, jsonrepair.ErrNoJSON):
			return nil, apperr.Wrap(err, apperr.CodeNoJSON, "no JSON object in model output")
		case errors.Is(err, jsonrepair.ErrUnclosed):
			return nil, apperr.Wrap(err, apperr.CodeUnclosedJSON, "model output truncated beyond repair")
		default:
			return nil, apperr.MalformedOutput(err)
		}
	}

	result.Normalize()
	e.log.Debug().
		Str("messageId", msg.ID).
		Dur("elapsed", time.Since(start)).
		Int("events", len(result.Events)).
		Int("tasks", len(result.Tasks)).
		Msg("extraction complete")
	return &result, nil
}

// TooShort reports whether an email body has too little text to analyze.
// Whitespace does not count toward the threshold.
func TooShort(body string, minLen int) bool {
	return len(strings.TrimSpace(body)) < minLen
}
