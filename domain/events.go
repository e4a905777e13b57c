package domain

import "encoding/json"

// Tables carried on the change feed.
const (
	TableTasks    = "tasks"
	TableColumns  = "columns"
	TableComments = "comments"
)

// Change feed operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is a single row-level notification on a board's change feed.
// Row holds the full row for inserts and updates; deletes carry only the
// row key (id, or slug for columns).
type ChangeEvent struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	Board string          `json:"board"`
	Row   json.RawMessage `json:"row,omitempty"`
}

// DeletedRow is the payload of a delete event.
type DeletedRow struct {
	ID     string `json:"id,omitempty"`
	Slug   string `json:"slug,omitempty"`
	TaskID string `json:"taskId,omitempty"`
}
