package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"boardsync/domain"
)

type fakeSubscription struct {
	events chan domain.ChangeEvent
	closed chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan domain.ChangeEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSubscription) Events() <-chan domain.ChangeEvent { return f.events }

func (f *fakeSubscription) Close() {
	select {
	case <-f.closed:
	default:
		close(f.closed)
		close(f.events)
	}
}

type fakeTransport struct {
	sub *fakeSubscription
}

func (f *fakeTransport) Subscribe(ctx context.Context, boardID string) Subscription {
	return f.sub
}

type fakeLoader struct {
	state domain.BoardState
	err   error
}

func (f *fakeLoader) FetchBoardState(ctx context.Context, boardID string) (domain.BoardState, error) {
	return f.state, f.err
}

func openTestSession(t *testing.T, state domain.BoardState) (*Session, *fakeSubscription) {
	t.Helper()
	sub := newFakeSubscription()
	s, err := Open(context.Background(), "b1", &fakeLoader{state: state}, &fakeTransport{sub: sub}, testLogger())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return s, sub
}

func waitForTask(t *testing.T, s *Session, id string) domain.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := s.TaskByID(id); ok {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never appeared in snapshot", id)
	return domain.Task{}
}

func TestOpenLoadsInitialState(t *testing.T) {
	state := domain.BoardState{
		Tasks:   []domain.Task{newTask("t1", 1, 1000, "todo")},
		Columns: domain.DefaultColumns("b1"),
	}
	s, _ := openTestSession(t, state)
	defer s.Close()

	if s.State() != Subscribed {
		t.Fatalf("expected Subscribed after open, got %v", s.State())
	}
	if len(s.Tasks()) != 1 || len(s.Columns()) != 4 {
		t.Fatalf("initial state not loaded: %d tasks, %d columns", len(s.Tasks()), len(s.Columns()))
	}
}

func TestOpenLoadFailureClosesSubscription(t *testing.T) {
	sub := newFakeSubscription()
	loadErr := errors.New("table storage unavailable")
	_, err := Open(context.Background(), "b1", &fakeLoader{err: loadErr}, &fakeTransport{sub: sub}, testLogger())
	if !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}
	select {
	case <-sub.closed:
	case <-time.After(time.Second):
		t.Fatal("subscription left open after failed load")
	}
}

func TestSessionAppliesFeedEvents(t *testing.T) {
	s, sub := openTestSession(t, domain.BoardState{Columns: domain.DefaultColumns("b1")})
	defer s.Close()

	task := newTask("t1", 1, 1000, "todo")
	row, _ := json.Marshal(task)
	sub.events <- domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: "b1", Row: row}

	got := waitForTask(t, s, "t1")
	if got.Title != task.Title {
		t.Fatalf("unexpected task applied: %+v", got)
	}
}

func TestSessionDropsForeignBoardEvents(t *testing.T) {
	s, sub := openTestSession(t, domain.BoardState{})
	defer s.Close()

	foreign := newTask("tx", 1, 1000, "todo")
	row, _ := json.Marshal(foreign)
	sub.events <- domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: "other", Row: row}

	mine := newTask("t1", 2, 2000, "todo")
	row, _ = json.Marshal(mine)
	sub.events <- domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: "b1", Row: row}

	waitForTask(t, s, "t1")
	if _, ok := s.TaskByID("tx"); ok {
		t.Fatal("event for a different board must be dropped")
	}
}

func TestWatcherNotifiedOnEveryAppliedEvent(t *testing.T) {
	s, sub := openTestSession(t, domain.BoardState{})
	defer s.Close()

	ch := s.Watch()
	defer s.Unwatch(ch)

	row, _ := json.Marshal(newTask("t1", 1, 1000, "todo"))
	sub.events <- domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: "b1", Row: row}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never notified")
	}
}

func TestCloseStopsReconcilerAndDisconnects(t *testing.T) {
	s, sub := openTestSession(t, domain.BoardState{})
	s.Close()

	if s.State() != Disconnected {
		t.Fatalf("expected Disconnected after close, got %v", s.State())
	}
	select {
	case <-sub.closed:
	default:
		t.Fatal("close must tear down the subscription")
	}
}

func TestFilterSettersAreSynchronous(t *testing.T) {
	s, _ := openTestSession(t, domain.BoardState{})
	defer s.Close()

	s.SetQuery("deploy")
	s.SetPriorityFilter(domain.PriorityHigh)
	s.SetShowSubtasks(true)
	s.SetActiveView("board")

	f := s.Filters()
	if f.Query != "deploy" || f.Priority != domain.PriorityHigh || !f.ShowSubtasks || f.ActiveView != "board" {
		t.Fatalf("filters not applied: %+v", f)
	}
}

func TestEventsDuringLoadAreReplayedSafely(t *testing.T) {
	// an insert the loader already returned arrives again over the feed
	task := newTask("t1", 1, 1000, "todo")
	sub := newFakeSubscription()
	row, _ := json.Marshal(task)
	sub.events <- domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: "b1", Row: row}

	s, err := Open(context.Background(), "b1",
		&fakeLoader{state: domain.BoardState{Tasks: []domain.Task{task}}},
		&fakeTransport{sub: sub}, testLogger())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	defer s.Close()

	renamed := task
	renamed.Title = "renamed"
	row, _ = json.Marshal(renamed)
	sub.events <- domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpUpdate, Board: "b1", Row: row}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := s.TaskByID("t1"); ok && got.Title == "renamed" {
			if len(s.Tasks()) != 1 {
				t.Fatalf("replayed insert duplicated the task: %+v", s.Tasks())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("update never applied")
}
