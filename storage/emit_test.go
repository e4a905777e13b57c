package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestEmitPublishesAndArchives(t *testing.T) {
	pub := &fakePublisher{}
	fq := &fakeQueue{}
	s := &Storage{publisher: pub, eventsQueue: fq, logger: log.New()}

	task := taskForTest("t1", "b1", 1)
	s.emit(context.Background(), domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: "b1"}, task)

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Table != domain.TableTasks || ev.Op != domain.OpInsert || ev.Board != "b1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	var row domain.Task
	if err := json.Unmarshal(ev.Row, &row); err != nil || row.ID != "t1" {
		t.Fatalf("row not carried: %v %+v", err, row)
	}

	if len(fq.messages) != 1 {
		t.Fatalf("expected 1 archived message, got %d", len(fq.messages))
	}
	var archived domain.ChangeEvent
	if err := json.Unmarshal([]byte(fq.messages[0]), &archived); err != nil {
		t.Fatalf("decode archived envelope: %v", err)
	}
	if archived.Table != domain.TableTasks {
		t.Fatalf("unexpected archived event: %+v", archived)
	}
}

func TestEmitToleratesPublisherAndArchiveFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("feed down")}
	fq := &fakeQueue{err: errors.New("queue down")}
	s := &Storage{publisher: pub, eventsQueue: fq, logger: log.New()}

	// must not panic or propagate: the row is already committed
	s.emit(context.Background(), domain.ChangeEvent{Table: domain.TableColumns, Op: domain.OpDelete, Board: "b1"}, domain.DeletedRow{Slug: "todo"})
}

func TestEmitWithoutQueueOrPublisher(t *testing.T) {
	s := &Storage{logger: log.New()}
	s.emit(context.Background(), domain.ChangeEvent{Table: domain.TableComments, Op: domain.OpInsert, Board: "b1"}, domain.Comment{ID: "c1", TaskID: "t1"})
}
