package domain

import "time"

// Comment is a note attached to a task. Comments are created and deleted,
// never edited in place.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	BoardID   string    `json:"boardId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
