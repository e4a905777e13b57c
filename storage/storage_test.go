package storage

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"boardsync/domain"
)

func taskForTest(id, boardID string, number int) domain.Task {
	return domain.Task{
		ID:        id,
		BoardID:   boardID,
		Number:    number,
		Title:     "Task " + id,
		Column:    "todo",
		Priority:  domain.PriorityMedium,
		Position:  number * 1000,
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDecodeTaskEntity(t *testing.T) {
	data := []byte(`{
		"PartitionKey": "b1",
		"RowKey": "t1",
		"Number": 7,
		"Title": "Ship it",
		"Description": "release checklist",
		"Column": "todo",
		"Priority": "high",
		"Position": 2000,
		"Assignee": "ada",
		"Creator": "grace",
		"Tags": "[\"release\",\"ops\"]",
		"ParentId": "",
		"SubtaskIds": "[\"t2\"]",
		"CompletedAt": "",
		"CreatedAt": "2026-08-01T10:00:00Z",
		"UpdatedAt": "2026-08-02T11:30:00Z"
	}`)

	task, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != "t1" || task.BoardID != "b1" || task.Number != 7 {
		t.Fatalf("unexpected identity: %+v", task)
	}
	if task.Priority != "high" || task.Position != 2000 {
		t.Fatalf("unexpected fields: %+v", task)
	}
	if len(task.Tags) != 2 || task.Tags[0] != "release" {
		t.Fatalf("unexpected tags: %v", task.Tags)
	}
	if len(task.SubtaskIDs) != 1 || task.SubtaskIDs[0] != "t2" {
		t.Fatalf("unexpected subtasks: %v", task.SubtaskIDs)
	}
	if task.CompletedAt != nil {
		t.Fatalf("expected open task, got completed at %v", task.CompletedAt)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not decoded: %+v", task)
	}
}

func TestDecodeTaskEntityDefensiveFallbacks(t *testing.T) {
	data := []byte(`{
		"PartitionKey": "b1",
		"RowKey": "t1",
		"Priority": "someday",
		"Tags": "{broken",
		"CompletedAt": "not-a-time"
	}`)

	task, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Priority != "medium" {
		t.Fatalf("expected priority fallback to medium, got %q", task.Priority)
	}
	if task.Tags != nil {
		t.Fatalf("expected broken tags dropped, got %v", task.Tags)
	}
	if task.CompletedAt != nil {
		t.Fatalf("expected bad timestamp dropped, got %v", task.CompletedAt)
	}
}

func TestDecodeTaskEntityRejectsMissingRowKey(t *testing.T) {
	if _, err := decodeTaskEntity([]byte(`{"PartitionKey":"b1"}`)); err == nil {
		t.Fatal("expected error for entity without row key")
	}
}

func TestTaskEntityRoundTrip(t *testing.T) {
	done := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	original := taskForTest("t9", "b2", 12)
	original.CompletedAt = &done
	original.Tags = []string{"infra"}
	original.SubtaskIDs = []string{"a", "b"}

	data, err := encodeTaskEntity(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != original.ID || decoded.Number != original.Number || decoded.Column != original.Column {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}
	if decoded.CompletedAt == nil || !decoded.CompletedAt.Equal(done) {
		t.Fatalf("completion timestamp lost: %v", decoded.CompletedAt)
	}
	if len(decoded.SubtaskIDs) != 2 {
		t.Fatalf("subtask ids lost: %v", decoded.SubtaskIDs)
	}
}

func TestDecodeColumnEntity(t *testing.T) {
	data := []byte(`{
		"PartitionKey": "b1",
		"RowKey": "done",
		"Title": "Done",
		"Color": "#22c55e",
		"Position": 4000,
		"Protected": true,
		"Terminal": true
	}`)

	col, err := decodeColumnEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if col.Slug != "done" || col.BoardID != "b1" || !col.Protected || !col.Terminal {
		t.Fatalf("unexpected column: %+v", col)
	}
}

func TestDecodeCommentEntityRequiresTaskID(t *testing.T) {
	if _, err := decodeCommentEntity([]byte(`{"PartitionKey":"b1","RowKey":"c1"}`)); err == nil {
		t.Fatal("expected error for comment without task reference")
	}
}

func TestClassifyInsertErr(t *testing.T) {
	conflict := &azcore.ResponseError{
		ErrorCode:  string(aztables.EntityAlreadyExists),
		StatusCode: http.StatusConflict,
	}
	if !IsConflict(classifyInsertErr(conflict)) {
		t.Fatal("EntityAlreadyExists should classify as conflict")
	}

	other := &azcore.ResponseError{ErrorCode: "InternalError", StatusCode: http.StatusInternalServerError}
	if IsConflict(classifyInsertErr(other)) {
		t.Fatal("other storage errors must not classify as conflict")
	}
	if classifyInsertErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestNumberRowKeyIsSortable(t *testing.T) {
	if numberRowKey(7) >= numberRowKey(12) {
		t.Fatalf("row keys must sort numerically: %s vs %s", numberRowKey(7), numberRowKey(12))
	}
	var back int
	if _, err := fmt.Sscanf(numberRowKey(42), "%d", &back); err != nil || back != 42 {
		t.Fatalf("row key not parseable: %v, %d", err, back)
	}
}
