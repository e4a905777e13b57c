package api

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"boardsync/domain"
	"boardsync/gateway"
)

// payloads of the individual command types
type addTaskData struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Column      string          `json:"column,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	ParentID    string          `json:"parentId,omitempty"`
}

type updateTaskData struct {
	TaskID      string           `json:"taskId"`
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *domain.Priority `json:"priority,omitempty"`
	Assignee    *string          `json:"assignee,omitempty"`
	Tags        *[]string        `json:"tags,omitempty"`
}

type deleteTaskData struct {
	TaskID string `json:"taskId"`
}

type moveTaskData struct {
	TaskID string `json:"taskId"`
	Column string `json:"column"`
	Index  int    `json:"index"`
}

type reorderTaskData struct {
	TaskID string `json:"taskId"`
	Index  int    `json:"index"`
}

type addCommentData struct {
	TaskID string `json:"taskId"`
	Text   string `json:"text"`
}

type deleteCommentData struct {
	TaskID    string `json:"taskId"`
	CommentID string `json:"commentId"`
}

type addColumnData struct {
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

type removeColumnData struct {
	Slug string `json:"slug"`
}

type reorderColumnsData struct {
	Slugs []string `json:"slugs"`
}

// dispatchCommand routes one accepted command to the board's gateway. The
// caller observes success through the change feed, not through local state.
func dispatchCommand(ctx context.Context, g *gateway.Gateway, userID string, cmd domain.Command) error {
	switch cmd.Type {
	case domain.CmdAddTask:
		var data addTaskData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		_, err := g.AddTask(ctx, gateway.AddTaskInput{
			Title:       data.Title,
			Description: data.Description,
			Column:      data.Column,
			Priority:    data.Priority,
			Assignee:    data.Assignee,
			Creator:     userID,
			Tags:        data.Tags,
			ParentID:    data.ParentID,
		})
		return err
	case domain.CmdUpdateTask:
		var data updateTaskData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.UpdateTask(ctx, data.TaskID, gateway.TaskPatch{
			Title:       data.Title,
			Description: data.Description,
			Priority:    data.Priority,
			Assignee:    data.Assignee,
			Tags:        data.Tags,
		})
	case domain.CmdDeleteTask:
		var data deleteTaskData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.DeleteTask(ctx, data.TaskID)
	case domain.CmdMoveTask:
		var data moveTaskData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.MoveTask(ctx, data.TaskID, data.Column, data.Index)
	case domain.CmdReorderTask:
		var data reorderTaskData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.ReorderTask(ctx, data.TaskID, data.Index)
	case domain.CmdAddComment:
		var data addCommentData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		_, err := g.AddComment(ctx, data.TaskID, userID, data.Text)
		return err
	case domain.CmdDeleteComment:
		var data deleteCommentData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.DeleteComment(ctx, data.TaskID, data.CommentID)
	case domain.CmdAddColumn:
		var data addColumnData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		_, err := g.AddColumn(ctx, data.Title, data.Color, data.Icon)
		return err
	case domain.CmdRemoveColumn:
		var data removeColumnData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.RemoveColumn(ctx, data.Slug)
	case domain.CmdReorderColumns:
		var data reorderColumnsData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", cmd.Type, err)
		}
		return g.ReorderColumns(ctx, data.Slugs)
	}
	return fmt.Errorf("unknown command type %q", cmd.Type)
}
