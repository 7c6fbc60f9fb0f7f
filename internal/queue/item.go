package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a queue item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusResolving   Status = "resolving"
	StatusDownloading Status = "downloading"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
	StatusCanceled    Status = "canceled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCanceled
}

// IsActive reports whether a worker currently owns the item.
func (s Status) IsActive() bool {
	return s == StatusResolving || s == StatusDownloading
}

const (
	maxTitleLen = 50
	maxErrorLen = 100
)

// Item is one requested download. Identity is immutable; state is mutated
// only by the worker processing the item (and by the manager on cancel).
type Item struct {
	ID       string `json:"id"`
	Query    string `json:"query"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"` // percent, meaningful while downloading

	Title      string `json:"title"`
	Artist     string `json:"artist"`
	PreviewURL string `json:"preview_url,omitempty"`
	Error      string `json:"error,omitempty"`
	Warning    string `json:"warning,omitempty"` // tag post-processing warning
	FilePath   string `json:"file_path,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

func newItem(query string) *Item {
	return &Item{
		ID:        uuid.New().String()[:8],
		Query:     query,
		Status:    StatusPending,
		Title:     truncate(query, maxTitleLen),
		CreatedAt: time.Now(),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
