package queue

// EventKind discriminates the payloads on the event channel.
type EventKind string

const (
	// EventItemStatus: an item changed status. Error carries the failure
	// (or cancel) message, or the tag warning when Status is complete.
	EventItemStatus EventKind = "item_status"
	// EventItemProgress: progress while downloading. Indeterminate means the
	// engine could not report a total; Progress is then the last known value.
	EventItemProgress EventKind = "item_progress"
	// EventItemResolved: resolution succeeded, display metadata is final.
	EventItemResolved EventKind = "item_resolved"
	// EventBatchComplete: every item of the running batch is terminal.
	EventBatchComplete EventKind = "batch_complete"
)

// Event is the single payload type published to the observer. Fields are
// populated per kind; unused fields stay zero. High-frequency progress
// events may be dropped under load, all other kinds are delivered in order.
type Event struct {
	Kind   EventKind `json:"kind"`
	ItemID string    `json:"item_id,omitempty"`

	// EventItemStatus
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// EventItemProgress
	Progress      int  `json:"progress,omitempty"`
	Indeterminate bool `json:"indeterminate,omitempty"`

	// EventItemResolved
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`

	// EventBatchComplete
	CompletedCount int `json:"completed_count,omitempty"`
	TotalCount     int `json:"total_count,omitempty"`
}
