package session

import (
	"strings"

	"boardsync/domain"
)

// Filters is the local-only view state. It never touches the remote store
// or the change feed; setters mutate it synchronously on the session.
type Filters struct {
	Query        string
	Priority     domain.Priority // empty means all priorities
	ShowSubtasks bool
	ActiveView   string
}

// VisibleTasks projects the tasks shown in one column: subtasks hidden
// unless toggled on, search and priority filters applied, position order.
// Pure function of its inputs; recomputed on every read.
func VisibleTasks(snap Snapshot, f Filters, column string) []domain.Task {
	tasks := snap.TasksInColumn(column)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ParentID != "" && !f.ShowSubtasks {
			continue
		}
		if !matchesFilters(t, f) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesFilters(t domain.Task, f Filters) bool {
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	query := strings.TrimSpace(strings.ToLower(f.Query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), query) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description), query) {
		return true
	}
	return strings.Contains(strings.ToLower(t.DisplayKey()), query)
}
