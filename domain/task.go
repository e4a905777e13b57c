package domain

import (
	"fmt"
	"time"
)

// Priority is the urgency bucket of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps arbitrary input to a known priority. Unknown values
// fall back to medium so a bad row never poisons the read model.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s)
	}
	return PriorityMedium
}

// Task represents a single board item in the read model.
type Task struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"boardId"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Column      string     `json:"column"`
	Priority    Priority   `json:"priority"`
	Position    int        `json:"position"`
	Assignee    string     `json:"assignee,omitempty"`
	Creator     string     `json:"creator,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	ParentID    string     `json:"parentId,omitempty"`
	SubtaskIDs  []string   `json:"subtaskIds,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// DisplayKey is the short human-facing identifier shown next to the title
// and matched by free-text search.
func (t Task) DisplayKey() string {
	return fmt.Sprintf("#%d", t.Number)
}
