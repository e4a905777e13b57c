package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"boardsync/domain"
)

// Table entities mirror the duck-typed rows of the backing store. They are
// encoded and decoded only here; the rest of the module works with typed
// domain values.

type taskEntity struct {
	aztables.Entity
	Number      int    `json:"Number"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Column      string `json:"Column"`
	Priority    string `json:"Priority"`
	Position    int    `json:"Position"`
	Assignee    string `json:"Assignee"`
	Creator     string `json:"Creator"`
	Tags        string `json:"Tags"`
	ParentID    string `json:"ParentId"`
	SubtaskIDs  string `json:"SubtaskIds"`
	CompletedAt string `json:"CompletedAt"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type columnEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Color     string `json:"Color"`
	Icon      string `json:"Icon"`
	Position  int    `json:"Position"`
	Protected bool   `json:"Protected"`
	Terminal  bool   `json:"Terminal"`
}

type commentEntity struct {
	aztables.Entity
	TaskID    string `json:"TaskId"`
	Author    string `json:"Author"`
	Text      string `json:"Text"`
	CreatedAt string `json:"CreatedAt"`
}

type boardEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	CreatedAt string `json:"CreatedAt"`
}

type membershipEntity struct {
	aztables.Entity
	Role string `json:"Role"`
}

type defaultBoardEntity struct {
	aztables.Entity
	Board string `json:"Board"`
}

var errMissingRowKey = errors.New("entity has no row key")

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	tags, err := encodeStringList(t.Tags)
	if err != nil {
		return nil, err
	}
	subtasks, err := encodeStringList(t.SubtaskIDs)
	if err != nil {
		return nil, err
	}
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.BoardID, RowKey: t.ID},
		Number:      t.Number,
		Title:       t.Title,
		Description: t.Description,
		Column:      t.Column,
		Priority:    string(t.Priority),
		Position:    t.Position,
		Assignee:    t.Assignee,
		Creator:     t.Creator,
		Tags:        tags,
		ParentID:    t.ParentID,
		SubtaskIDs:  subtasks,
		CompletedAt: encodeTime(t.CompletedAt),
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(ent)
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	if ent.RowKey == "" {
		return domain.Task{}, errMissingRowKey
	}
	return domain.Task{
		ID:          ent.RowKey,
		BoardID:     ent.PartitionKey,
		Number:      ent.Number,
		Title:       ent.Title,
		Description: ent.Description,
		Column:      ent.Column,
		Priority:    domain.ParsePriority(ent.Priority),
		Position:    ent.Position,
		Assignee:    ent.Assignee,
		Creator:     ent.Creator,
		Tags:        decodeStringList(ent.Tags),
		ParentID:    ent.ParentID,
		SubtaskIDs:  decodeStringList(ent.SubtaskIDs),
		CompletedAt: decodeTime(ent.CompletedAt),
		CreatedAt:   decodeTimestamp(ent.CreatedAt),
		UpdatedAt:   decodeTimestamp(ent.UpdatedAt),
	}, nil
}

func encodeColumnEntity(c domain.Column) ([]byte, error) {
	ent := columnEntity{
		Entity:    aztables.Entity{PartitionKey: c.BoardID, RowKey: c.Slug},
		Title:     c.Title,
		Color:     c.Color,
		Icon:      c.Icon,
		Position:  c.Position,
		Protected: c.Protected,
		Terminal:  c.Terminal,
	}
	return json.Marshal(ent)
}

func decodeColumnEntity(data []byte) (domain.Column, error) {
	var ent columnEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Column{}, err
	}
	if ent.RowKey == "" {
		return domain.Column{}, errMissingRowKey
	}
	return domain.Column{
		Slug:      ent.RowKey,
		BoardID:   ent.PartitionKey,
		Title:     ent.Title,
		Color:     ent.Color,
		Icon:      ent.Icon,
		Position:  ent.Position,
		Protected: ent.Protected,
		Terminal:  ent.Terminal,
	}, nil
}

func encodeCommentEntity(c domain.Comment) ([]byte, error) {
	ent := commentEntity{
		Entity:    aztables.Entity{PartitionKey: c.BoardID, RowKey: c.ID},
		TaskID:    c.TaskID,
		Author:    c.Author,
		Text:      c.Text,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(ent)
}

func decodeCommentEntity(data []byte) (domain.Comment, error) {
	var ent commentEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Comment{}, err
	}
	if ent.RowKey == "" || ent.TaskID == "" {
		return domain.Comment{}, errMissingRowKey
	}
	return domain.Comment{
		ID:        ent.RowKey,
		TaskID:    ent.TaskID,
		BoardID:   ent.PartitionKey,
		Author:    ent.Author,
		Text:      ent.Text,
		CreatedAt: decodeTimestamp(ent.CreatedAt),
	}, nil
}

func encodeBoardEntity(b domain.Board) ([]byte, error) {
	ent := boardEntity{
		Entity:    aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Name:      b.Name,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(ent)
}

func encodeStringList(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}

func decodeTimestamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
