package domain

import "strings"

// Extraction is the structured result of analyzing one email. Every field is
// optional: absence means "nothing of that kind detected", not an error.
type Extraction struct {
	Summary        string        `json:"summary,omitempty"`
	Events         []EventInfo   `json:"events,omitempty"`
	Tasks          []TaskInfo    `json:"tasks,omitempty"`
	Contacts       []ContactInfo `json:"contacts,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Reply          string        `json:"reply,omitempty"`
	ForwardSummary string        `json:"forward_summary,omitempty"`
}

// EventInfo is one detected calendar event.
type EventInfo struct {
	Preview     string   `json:"preview,omitempty"`
	Title       string   `json:"title,omitempty"`
	StartTime   string   `json:"start_time,omitempty"`
	EndTime     string   `json:"end_time,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Description string   `json:"description,omitempty"`
	MeetingURL  string   `json:"meeting_url,omitempty"`
}

// TaskInfo is one detected actionable item.
type TaskInfo struct {
	Preview     string `json:"preview,omitempty"`
	Title       string `json:"title,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Description string `json:"description,omitempty"`
}

// ContactInfo is one detected contact, usually from a signature block.
type ContactInfo struct {
	Preview string `json:"preview,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Title   string `json:"title,omitempty"`
	Label   string `json:"label,omitempty"`
}

// previewCandidates ranks the fields a one-line preview falls back through
// when the model omitted an explicit preview. Order matters.
func (e *EventInfo) previewCandidates() []string {
	return []string{e.Preview, e.Title, e.Description}
}

func (t *TaskInfo) previewCandidates() []string {
	return []string{t.Preview, t.Title, t.Description}
}

func (c *ContactInfo) previewCandidates() []string {
	return []string{c.Preview, c.Name, c.Email, c.Label, c.Company}
}

func firstNonEmpty(candidates []string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

// Normalize ensures every detected item carries a human-readable one-line
// preview, filling it from the fallback field order when absent. Items with
// no usable field at all keep an empty preview rather than being dropped.
func (x *Extraction) Normalize() {
	for i := range x.Events {
		x.Events[i].Preview = firstNonEmpty(x.Events[i].previewCandidates())
	}
	for i := range x.Tasks {
		x.Tasks[i].Preview = firstNonEmpty(x.Tasks[i].previewCandidates())
	}
	for i := range x.Contacts {
		x.Contacts[i].Preview = firstNonEmpty(x.Contacts[i].previewCandidates())
	}
}

// IsEmpty reports whether nothing at all was detected.
func (x *Extraction) IsEmpty() bool {
	return x.Summary == "" && len(x.Events) == 0 && len(x.Tasks) == 0 &&
		len(x.Contacts) == 0 && len(x.Tags) == 0 && x.Reply == "" && x.ForwardSummary == ""
}

// PlaceholderTooShort is the cache payload written for emails whose text is
// too short to analyze, so they are not re-queued over and over.
func PlaceholderTooShort() *Extraction {
	return &Extraction{
		Summary:  "Message too short to analyze",
		Events:   []EventInfo{},
		Tasks:    []TaskInfo{},
		Contacts: []ContactInfo{},
	}
}
