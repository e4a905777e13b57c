package session

import (
	"encoding/json"
	"sort"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Snapshot is the best-known local view of one board. It is only ever
// replaced wholesale by the reconciler; command issuers never write to it.
// All reducers are pure: they return a new snapshot and leave the input
// untouched, so any event sequence can be replayed deterministically.
type Snapshot struct {
	Tasks    []domain.Task               `json:"tasks"`
	Columns  []domain.Column             `json:"columns"`
	Comments map[string][]domain.Comment `json:"comments"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Comments: map[string][]domain.Comment{}}
}

func snapshotFromState(state domain.BoardState) Snapshot {
	snap := emptySnapshot()
	for _, t := range state.Tasks {
		snap = applyTaskInserted(snap, t)
	}
	for _, c := range state.Columns {
		snap = applyColumnInserted(snap, c)
	}
	for _, cm := range state.Comments {
		snap = applyCommentInserted(snap, cm)
	}
	return snap
}

// TaskByID looks a task up by id.
func (s Snapshot) TaskByID(id string) (domain.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// ColumnBySlug looks a column up by slug.
func (s Snapshot) ColumnBySlug(slug string) (domain.Column, bool) {
	for _, c := range s.Columns {
		if c.Slug == slug {
			return c, true
		}
	}
	return domain.Column{}, false
}

// TasksInColumn returns the column's tasks ordered by position.
func (s Snapshot) TasksInColumn(slug string) []domain.Task {
	out := make([]domain.Task, 0, 8)
	for _, t := range s.Tasks {
		if t.Column == slug {
			out = append(out, t)
		}
	}
	sortTasksByPosition(out)
	return out
}

// CommentsForTask returns the comments attached to a task.
func (s Snapshot) CommentsForTask(taskID string) []domain.Comment {
	return s.Comments[taskID]
}

func applyTaskInserted(s Snapshot, task domain.Task) Snapshot {
	// duplicate-delivery guard
	if _, ok := s.TaskByID(task.ID); ok {
		return s
	}
	tasks := make([]domain.Task, 0, len(s.Tasks)+1)
	tasks = append(tasks, s.Tasks...)
	tasks = append(tasks, task)
	s.Tasks = tasks
	return s
}

func applyTaskUpdated(s Snapshot, task domain.Task) Snapshot {
	for i, t := range s.Tasks {
		if t.ID == task.ID {
			tasks := make([]domain.Task, len(s.Tasks))
			copy(tasks, s.Tasks)
			tasks[i] = task
			s.Tasks = tasks
			return s
		}
	}
	// late delivery: an update for a row we never saw inserted
	return applyTaskInserted(s, task)
}

func applyTaskDeleted(s Snapshot, id string) Snapshot {
	tasks := make([]domain.Task, 0, len(s.Tasks))
	found := false
	for _, t := range s.Tasks {
		if t.ID == id {
			found = true
			continue
		}
		tasks = append(tasks, t)
	}
	if !found {
		return s
	}
	s.Tasks = tasks
	// deletes of subtasks arrive as their own events; no local cascade
	return s
}

func applyColumnInserted(s Snapshot, col domain.Column) Snapshot {
	if _, ok := s.ColumnBySlug(col.Slug); ok {
		return s
	}
	cols := make([]domain.Column, 0, len(s.Columns)+1)
	cols = append(cols, s.Columns...)
	cols = append(cols, col)
	domain.SortColumns(cols)
	s.Columns = cols
	return s
}

func applyColumnUpdated(s Snapshot, col domain.Column) Snapshot {
	cols := make([]domain.Column, len(s.Columns))
	copy(cols, s.Columns)
	found := false
	for i, c := range cols {
		if c.Slug == col.Slug {
			cols[i] = col
			found = true
			break
		}
	}
	if !found {
		cols = append(cols, col)
	}
	domain.SortColumns(cols)
	s.Columns = cols
	return s
}

func applyColumnDeleted(s Snapshot, slug string) Snapshot {
	cols := make([]domain.Column, 0, len(s.Columns))
	found := false
	for _, c := range s.Columns {
		if c.Slug == slug {
			found = true
			continue
		}
		cols = append(cols, c)
	}
	if !found {
		return s
	}
	s.Columns = cols
	return s
}

func applyCommentInserted(s Snapshot, cm domain.Comment) Snapshot {
	for _, existing := range s.Comments[cm.TaskID] {
		if existing.ID == cm.ID {
			return s
		}
	}
	comments := make(map[string][]domain.Comment, len(s.Comments)+1)
	for k, v := range s.Comments {
		comments[k] = v
	}
	group := make([]domain.Comment, 0, len(comments[cm.TaskID])+1)
	group = append(group, s.Comments[cm.TaskID]...)
	group = append(group, cm)
	comments[cm.TaskID] = group
	s.Comments = comments
	return s
}

func applyCommentDeleted(s Snapshot, taskID, commentID string) Snapshot {
	group, ok := s.Comments[taskID]
	if !ok {
		return s
	}
	filtered := make([]domain.Comment, 0, len(group))
	found := false
	for _, cm := range group {
		if cm.ID == commentID {
			found = true
			continue
		}
		filtered = append(filtered, cm)
	}
	if !found {
		return s
	}
	comments := make(map[string][]domain.Comment, len(s.Comments))
	for k, v := range s.Comments {
		comments[k] = v
	}
	if len(filtered) == 0 {
		delete(comments, taskID)
	} else {
		comments[taskID] = filtered
	}
	s.Comments = comments
	return s
}

// applyEvent is the reconciliation reducer: one feed event in, the next
// snapshot out. Malformed events degrade to a no-op; the cache goes stale
// rather than failing.
func applyEvent(s Snapshot, ev domain.ChangeEvent, logger *log.Logger) Snapshot {
	switch ev.Table {
	case domain.TableTasks:
		if ev.Op == domain.OpDelete {
			row, ok := decodeDeletedRow(ev.Row, logger)
			if !ok || row.ID == "" {
				return s
			}
			return applyTaskDeleted(s, row.ID)
		}
		var task domain.Task
		if err := json.Unmarshal(ev.Row, &task); err != nil || task.ID == "" {
			logger.WithError(err).Debug("dropping malformed task event")
			return s
		}
		if ev.Op == domain.OpInsert {
			return applyTaskInserted(s, task)
		}
		return applyTaskUpdated(s, task)

	case domain.TableColumns:
		if ev.Op == domain.OpDelete {
			row, ok := decodeDeletedRow(ev.Row, logger)
			if !ok || row.Slug == "" {
				return s
			}
			return applyColumnDeleted(s, row.Slug)
		}
		var col domain.Column
		if err := json.Unmarshal(ev.Row, &col); err != nil || col.Slug == "" {
			logger.WithError(err).Debug("dropping malformed column event")
			return s
		}
		if ev.Op == domain.OpInsert {
			return applyColumnInserted(s, col)
		}
		return applyColumnUpdated(s, col)

	case domain.TableComments:
		if ev.Op == domain.OpDelete {
			row, ok := decodeDeletedRow(ev.Row, logger)
			if !ok || row.ID == "" || row.TaskID == "" {
				return s
			}
			return applyCommentDeleted(s, row.TaskID, row.ID)
		}
		var cm domain.Comment
		if err := json.Unmarshal(ev.Row, &cm); err != nil || cm.ID == "" || cm.TaskID == "" {
			logger.WithError(err).Debug("dropping malformed comment event")
			return s
		}
		// comments are never updated in place; treat update like insert
		return applyCommentInserted(s, cm)
	}
	logger.Debugf("dropping event for unknown table %q", ev.Table)
	return s
}

func decodeDeletedRow(raw json.RawMessage, logger *log.Logger) (domain.DeletedRow, bool) {
	var row domain.DeletedRow
	if err := json.Unmarshal(raw, &row); err != nil {
		logger.WithError(err).Debug("dropping malformed delete event")
		return domain.DeletedRow{}, false
	}
	return row, true
}

func sortTasksByPosition(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].Number < tasks[j].Number
	})
}
