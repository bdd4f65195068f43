package capture

import "time"

// Type is the capture channel a memory arrived through.
type Type string

const (
	TypeText  Type = "text"
	TypeVoice Type = "voice"
	TypeEmail Type = "email"
)

// ValidType reports whether t is a known capture channel
func ValidType(t Type) bool {
	switch t {
	case TypeText, TypeVoice, TypeEmail:
		return true
	}
	return false
}

// Status is the lifecycle state of a memory.
//
// Legal transitions: raw -> processing -> organized -> linked, plus
// processing -> raw when organization fails and the memory is handed back.
type Status string

const (
	StatusRaw        Status = "raw"
	StatusProcessing Status = "processing"
	StatusOrganized  Status = "organized"
	StatusLinked     Status = "linked"
)

// ValidStatus reports whether s is a known lifecycle state
func ValidStatus(s Status) bool {
	switch s {
	case StatusRaw, StatusProcessing, StatusOrganized, StatusLinked:
		return true
	}
	return false
}

// legalTransition reports whether a memory may move from one status to another.
func legalTransition(from, to Status) bool {
	switch from {
	case StatusRaw:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusOrganized || to == StatusRaw
	case StatusOrganized:
		return to == StatusLinked
	}
	return false
}

// Memory is a raw captured thought before and after organization. Content
// and Type are immutable after creation; voice memories carry the audio
// reference and gain a transcript later.
type Memory struct {
	ID              string                 `json:"id"`
	Type            Type                   `json:"type"`
	Content         string                 `json:"content"`
	AudioURL        string                 `json:"audio_url,omitempty"`
	Transcript      string                 `json:"transcript,omitempty"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	Status          Status                 `json:"status"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// CreateInput is the caller-facing input for Create
type CreateInput struct {
	Type     Type                   `json:"type"`
	Content  string                 `json:"content"`
	AudioURL string                 `json:"audio_url,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// QueueStatus is the state of a processing ticket.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is a processing ticket for one memory. A memory queued twice
// gets two tickets; downstream work must tolerate reprocessing.
type QueueItem struct {
	ID        string      `json:"id"`
	MemoryID  string      `json:"memory_id"`
	Status    QueueStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Stats summarizes captured memories by status and channel
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[Type]int   `json:"by_type"`
	Pending  int            `json:"pending_queue"`
}
