package domain

import "github.com/bytedance/sonic"

// Command types accepted by the command endpoint.
const (
	CmdAddTask        = "add-task"
	CmdUpdateTask     = "update-task"
	CmdDeleteTask     = "delete-task"
	CmdMoveTask       = "move-task"
	CmdReorderTask    = "reorder-task"
	CmdAddComment     = "add-comment"
	CmdDeleteComment  = "delete-comment"
	CmdAddColumn      = "add-column"
	CmdRemoveColumn   = "remove-column"
	CmdReorderColumns = "reorder-columns"
)

// Command represents a write request against a board.
type Command struct {
	// ID carries the idempotency key once the command is accepted.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}
