package domain

import "time"

// Role describes what a member may do on a board.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
)

// Board is a shared workspace owning columns, tasks and comments.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership links a user to a board with a role.
type Membership struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId"`
	Role    Role   `json:"role"`
}

// DefaultColumns is the canonical column set a freshly bootstrapped board
// starts with. Backlog is the protected entry stage and Done the protected
// terminal stage.
func DefaultColumns(boardID string) []Column {
	return []Column{
		{Slug: "backlog", BoardID: boardID, Title: "Backlog", Color: "#64748b", Icon: "inbox", Position: 1000, Protected: true},
		{Slug: "todo", BoardID: boardID, Title: "Todo", Color: "#3b82f6", Icon: "list", Position: 2000},
		{Slug: "in-progress", BoardID: boardID, Title: "In Progress", Color: "#f59e0b", Icon: "play", Position: 3000},
		{Slug: "done", BoardID: boardID, Title: "Done", Color: "#22c55e", Icon: "check", Position: 4000, Protected: true, Terminal: true},
	}
}

// BoardState is the full persisted state of a board, as loaded by a session
// when it opens.
type BoardState struct {
	Tasks    []Task    `json:"tasks"`
	Columns  []Column  `json:"columns"`
	Comments []Comment `json:"comments"`
}
