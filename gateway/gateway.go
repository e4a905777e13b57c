package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/storage"
)

// numberAttempts bounds the read-then-claim loop for task numbers. Contention
// on a single board is rare enough that three rounds always settle it.
const numberAttempts = 3

var (
	// ErrNumberContention is returned when every numbering attempt lost the
	// claim race.
	ErrNumberContention = errors.New("gateway: task number contention not resolved")
	// ErrUnknownTask is returned for commands against a task id that is not
	// in the local snapshot.
	ErrUnknownTask = errors.New("gateway: unknown task")
	// ErrUnknownColumn is returned for task commands naming a column that
	// does not exist.
	ErrUnknownColumn = errors.New("gateway: unknown column")
)

// Store is the remote write surface the gateway drives. Writes succeed or
// fail here; their effect on local state only ever arrives via the feed.
type Store interface {
	NextTaskNumber(ctx context.Context, boardID string) (int, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, boardID, taskID string) error
	InsertColumn(ctx context.Context, col domain.Column) error
	UpdateColumn(ctx context.Context, col domain.Column) error
	DeleteColumn(ctx context.Context, boardID, slug string) error
	InsertComment(ctx context.Context, cm domain.Comment) error
	DeleteComment(ctx context.Context, boardID, taskID, commentID string) error
}

// BoardReader is the read-only view of the board the gateway validates and
// computes positions against. A session satisfies it.
type BoardReader interface {
	TaskByID(id string) (domain.Task, bool)
	TasksInColumn(slug string) []domain.Task
	Columns() []domain.Column
	ColumnBySlug(slug string) (domain.Column, bool)
}

// AddTaskInput carries the user-supplied fields of a new task.
type AddTaskInput struct {
	Title       string
	Description string
	Column      string
	Priority    domain.Priority
	Assignee    string
	Creator     string
	Tags        []string
	ParentID    string
}

// TaskPatch is a partial task update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *domain.Priority
	Assignee    *string
	Tags        *[]string
}

// Gateway issues writes for one board. It never mutates the local snapshot;
// every successful write comes back as a feed event and is applied there.
type Gateway struct {
	boardID string
	store   Store
	board   BoardReader
	logger  *log.Logger

	now   func() time.Time
	newID func() string
}

func New(boardID string, store Store, board BoardReader, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Gateway{
		boardID: boardID,
		store:   store,
		board:   board,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// AddTask claims a board-unique task number and inserts the task at the end
// of its column. The claim can lose a race with another client; on conflict
// the number is re-read and the insert retried, bounded by numberAttempts.
func (g *Gateway) AddTask(ctx context.Context, in AddTaskInput) (domain.Task, error) {
	column := in.Column
	if column == "" {
		cols := g.board.Columns()
		if len(cols) == 0 {
			return domain.Task{}, ErrUnknownColumn
		}
		column = cols[0].Slug
	} else if _, ok := g.board.ColumnBySlug(column); !ok {
		return domain.Task{}, ErrUnknownColumn
	}

	var parent domain.Task
	if in.ParentID != "" {
		var ok bool
		if parent, ok = g.board.TaskByID(in.ParentID); !ok {
			return domain.Task{}, ErrUnknownTask
		}
	}

	now := g.now()
	task := domain.Task{
		ID:          g.newID(),
		BoardID:     g.boardID,
		Title:       in.Title,
		Description: in.Description,
		Column:      column,
		Priority:    in.Priority,
		Position:    appendPosition(g.board.TasksInColumn(column)),
		Assignee:    in.Assignee,
		Creator:     in.Creator,
		Tags:        in.Tags,
		ParentID:    in.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}

	for attempt := 1; attempt <= numberAttempts; attempt++ {
		number, err := g.store.NextTaskNumber(ctx, g.boardID)
		if err != nil {
			return domain.Task{}, err
		}
		task.Number = number
		err = g.store.InsertTask(ctx, task)
		if err == nil {
			if in.ParentID != "" {
				g.linkSubtask(ctx, parent, task.ID)
			}
			return task, nil
		}
		if !storage.IsConflict(err) {
			return domain.Task{}, err
		}
		g.logger.WithFields(log.Fields{"board": g.boardID, "number": number, "attempt": attempt}).
			Debug("task number already claimed, retrying")
	}
	return domain.Task{}, ErrNumberContention
}

func (g *Gateway) linkSubtask(ctx context.Context, parent domain.Task, childID string) {
	for _, id := range parent.SubtaskIDs {
		if id == childID {
			return
		}
	}
	parent.SubtaskIDs = append(append([]string(nil), parent.SubtaskIDs...), childID)
	parent.UpdatedAt = g.now()
	if err := g.store.UpdateTask(ctx, parent); err != nil {
		g.logger.WithError(err).WithField("task", parent.ID).Warn("failed to link subtask on parent")
	}
}

// UpdateTask applies a partial edit to a task.
func (g *Gateway) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	task, ok := g.board.TaskByID(taskID)
	if !ok {
		return ErrUnknownTask
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	if patch.Tags != nil {
		task.Tags = *patch.Tags
	}
	task.UpdatedAt = g.now()
	return g.store.UpdateTask(ctx, task)
}

// DeleteTask removes a task and all of its subtasks. Each subtask is deleted
// with its own remote call so every removal echoes as a separate feed event;
// the cache never cascades locally.
func (g *Gateway) DeleteTask(ctx context.Context, taskID string) error {
	task, ok := g.board.TaskByID(taskID)
	if !ok {
		return ErrUnknownTask
	}
	for _, childID := range task.SubtaskIDs {
		if err := g.store.DeleteTask(ctx, g.boardID, childID); err != nil {
			return err
		}
	}
	if task.ParentID != "" {
		if parent, ok := g.board.TaskByID(task.ParentID); ok {
			g.unlinkSubtask(ctx, parent, task.ID)
		}
	}
	return g.store.DeleteTask(ctx, g.boardID, task.ID)
}

func (g *Gateway) unlinkSubtask(ctx context.Context, parent domain.Task, childID string) {
	kept := make([]string, 0, len(parent.SubtaskIDs))
	for _, id := range parent.SubtaskIDs {
		if id != childID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(parent.SubtaskIDs) {
		return
	}
	parent.SubtaskIDs = kept
	parent.UpdatedAt = g.now()
	if err := g.store.UpdateTask(ctx, parent); err != nil {
		g.logger.WithError(err).WithField("task", parent.ID).Warn("failed to unlink subtask on parent")
	}
}

// MoveTask places a task at index within the target column, updating column
// and position in a single write. Entering the terminal column stamps a
// fresh completion time; leaving it clears the stamp.
func (g *Gateway) MoveTask(ctx context.Context, taskID, toColumn string, index int) error {
	task, ok := g.board.TaskByID(taskID)
	if !ok {
		return ErrUnknownTask
	}
	col, ok := g.board.ColumnBySlug(toColumn)
	if !ok {
		return ErrUnknownColumn
	}

	siblings := withoutTask(g.board.TasksInColumn(toColumn), taskID)
	position, ok := positionForIndex(siblings, index)
	if !ok {
		var err error
		if siblings, err = g.rebalanceColumn(ctx, siblings); err != nil {
			return err
		}
		if position, ok = positionForIndex(siblings, index); !ok {
			return errors.New("gateway: no position available after rebalance")
		}
	}

	entering := task.Column != toColumn
	if col.Terminal {
		if entering || task.CompletedAt == nil {
			done := g.now()
			task.CompletedAt = &done
		}
	} else {
		task.CompletedAt = nil
	}
	task.Column = toColumn
	task.Position = position
	task.UpdatedAt = g.now()
	return g.store.UpdateTask(ctx, task)
}

// ReorderTask moves a task to index within its current column.
func (g *Gateway) ReorderTask(ctx context.Context, taskID string, index int) error {
	task, ok := g.board.TaskByID(taskID)
	if !ok {
		return ErrUnknownTask
	}
	return g.MoveTask(ctx, taskID, task.Column, index)
}

// rebalanceColumn rewrites the sibling group to even gap spacing, one update
// per task, and returns the re-spaced group.
func (g *Gateway) rebalanceColumn(ctx context.Context, siblings []domain.Task) ([]domain.Task, error) {
	respaced := rebalanced(siblings)
	for i := range respaced {
		if respaced[i].Position == siblings[i].Position {
			continue
		}
		respaced[i].UpdatedAt = g.now()
		if err := g.store.UpdateTask(ctx, respaced[i]); err != nil {
			return nil, err
		}
	}
	g.logger.WithField("board", g.boardID).Debug("rebalanced column positions")
	return respaced, nil
}

// AddComment attaches a comment to a task.
func (g *Gateway) AddComment(ctx context.Context, taskID, author, text string) (domain.Comment, error) {
	if _, ok := g.board.TaskByID(taskID); !ok {
		return domain.Comment{}, ErrUnknownTask
	}
	cm := domain.Comment{
		ID:        g.newID(),
		TaskID:    taskID,
		BoardID:   g.boardID,
		Author:    author,
		Text:      text,
		CreatedAt: g.now(),
	}
	if err := g.store.InsertComment(ctx, cm); err != nil {
		return domain.Comment{}, err
	}
	return cm, nil
}

// DeleteComment removes one comment from a task.
func (g *Gateway) DeleteComment(ctx context.Context, taskID, commentID string) error {
	return g.store.DeleteComment(ctx, g.boardID, taskID, commentID)
}

// AddColumn creates a column at the end of the board. A title that slugifies
// to an existing column is a silent no-op returning the existing column.
func (g *Gateway) AddColumn(ctx context.Context, title, color, icon string) (domain.Column, error) {
	slug := slugify(title)
	if slug == "" {
		return domain.Column{}, ErrUnknownColumn
	}
	if existing, ok := g.board.ColumnBySlug(slug); ok {
		return existing, nil
	}
	cols := g.board.Columns()
	position := positionGap
	if len(cols) > 0 {
		position = cols[len(cols)-1].Position + positionGap
	}
	col := domain.Column{
		Slug:     slug,
		BoardID:  g.boardID,
		Title:    title,
		Color:    color,
		Icon:     icon,
		Position: position,
	}
	if err := g.store.InsertColumn(ctx, col); err != nil {
		return domain.Column{}, err
	}
	return col, nil
}

// RemoveColumn deletes a column. Protected columns and columns that still
// hold tasks are left alone without a remote call.
func (g *Gateway) RemoveColumn(ctx context.Context, slug string) error {
	col, ok := g.board.ColumnBySlug(slug)
	if !ok {
		return nil
	}
	if col.Protected {
		g.logger.WithField("column", slug).Debug("ignoring removal of protected column")
		return nil
	}
	if len(g.board.TasksInColumn(slug)) > 0 {
		g.logger.WithField("column", slug).Debug("ignoring removal of non-empty column")
		return nil
	}
	return g.store.DeleteColumn(ctx, g.boardID, slug)
}

// ReorderColumns rewrites column positions to match the given slug order.
// Slugs that do not name a column are skipped.
func (g *Gateway) ReorderColumns(ctx context.Context, slugs []string) error {
	for i, slug := range slugs {
		col, ok := g.board.ColumnBySlug(slug)
		if !ok {
			continue
		}
		position := (i + 1) * positionGap
		if col.Position == position {
			continue
		}
		col.Position = position
		if err := g.store.UpdateColumn(ctx, col); err != nil {
			return err
		}
	}
	return nil
}

func withoutTask(tasks []domain.Task, id string) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
