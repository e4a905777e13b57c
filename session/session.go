package session

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Subscription is a live per-board change event stream.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close()
}

// Transport opens change-feed subscriptions.
type Transport interface {
	Subscribe(ctx context.Context, boardID string) Subscription
}

// Loader fetches the initial board state when a session opens.
type Loader interface {
	FetchBoardState(ctx context.Context, boardID string) (domain.BoardState, error)
}

// ConnState tracks where the session is in its subscription lifecycle.
type ConnState int32

const (
	Disconnected ConnState = iota
	Subscribing
	Subscribed
	Unsubscribing
)

func (s ConnState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Unsubscribing:
		return "unsubscribing"
	default:
		return "disconnected"
	}
}

// Session owns the reconciled state of one open board. It is created when a
// board is opened and torn down when it closes; nothing about it is global.
// The snapshot is only mutated by the reconciler goroutine, serialized by
// feed delivery order, so local state transitions are totally ordered even
// though the writes behind them are concurrent across clients.
type Session struct {
	boardID string
	logger  *log.Logger

	mu      sync.RWMutex
	snap    Snapshot
	filters Filters
	state   ConnState

	sub  Subscription
	done chan struct{}

	wmu      sync.Mutex
	watchers map[chan struct{}]struct{}
}

// Open subscribes to the board's change feed, loads the initial state and
// starts the reconciler. Subscribing before the load means events arriving
// during the fetch are not lost; replaying them over the loaded state is
// safe because application is idempotent.
func Open(ctx context.Context, boardID string, loader Loader, transport Transport, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Session{
		boardID:  boardID,
		logger:   logger,
		snap:     emptySnapshot(),
		state:    Subscribing,
		done:     make(chan struct{}),
		watchers: make(map[chan struct{}]struct{}),
	}

	sub := transport.Subscribe(ctx, boardID)
	state, err := loader.FetchBoardState(ctx, boardID)
	if err != nil {
		sub.Close()
		s.setState(Disconnected)
		return nil, err
	}

	s.mu.Lock()
	s.snap = snapshotFromState(state)
	s.sub = sub
	s.state = Subscribed
	s.mu.Unlock()

	go s.run()
	return s, nil
}

// BoardID returns the board this session is attached to.
func (s *Session) BoardID() string {
	return s.boardID
}

// Snapshot returns the current reconciled state. The snapshot is
// copy-on-write, so holding onto it is safe.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// State reports the subscription lifecycle state.
func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close unsubscribes from the feed and waits for the reconciler to drain.
func (s *Session) Close() {
	s.setState(Unsubscribing)
	s.sub.Close()
	<-s.done
}

// Watch registers for change notifications. The channel receives a tick
// after every applied event; slow watchers coalesce rather than block.
func (s *Session) Watch() chan struct{} {
	ch := make(chan struct{}, 1)
	s.wmu.Lock()
	s.watchers[ch] = struct{}{}
	s.wmu.Unlock()
	return ch
}

// Unwatch removes a previously registered watcher.
func (s *Session) Unwatch(ch chan struct{}) {
	s.wmu.Lock()
	delete(s.watchers, ch)
	s.wmu.Unlock()
}

// Filters returns the current local-only view state.
func (s *Session) Filters() Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// SetQuery updates the free-text search synchronously.
func (s *Session) SetQuery(q string) {
	s.mu.Lock()
	s.filters.Query = q
	s.mu.Unlock()
}

// SetPriorityFilter updates the priority filter; empty clears it.
func (s *Session) SetPriorityFilter(p domain.Priority) {
	s.mu.Lock()
	s.filters.Priority = p
	s.mu.Unlock()
}

// SetShowSubtasks toggles subtask visibility.
func (s *Session) SetShowSubtasks(show bool) {
	s.mu.Lock()
	s.filters.ShowSubtasks = show
	s.mu.Unlock()
}

// SetActiveView records which view the client is on.
func (s *Session) SetActiveView(view string) {
	s.mu.Lock()
	s.filters.ActiveView = view
	s.mu.Unlock()
}

// VisibleTasks projects the tasks currently visible in a column under the
// session's local filters.
func (s *Session) VisibleTasks(column string) []domain.Task {
	s.mu.RLock()
	snap, filters := s.snap, s.filters
	s.mu.RUnlock()
	return VisibleTasks(snap, filters, column)
}

// Tasks returns all tasks in the snapshot.
func (s *Session) Tasks() []domain.Task {
	return s.Snapshot().Tasks
}

// Columns returns the ordered column list.
func (s *Session) Columns() []domain.Column {
	return s.Snapshot().Columns
}

// TaskByID looks a task up in the snapshot.
func (s *Session) TaskByID(id string) (domain.Task, bool) {
	return s.Snapshot().TaskByID(id)
}

// TasksInColumn returns a column's tasks ordered by position.
func (s *Session) TasksInColumn(slug string) []domain.Task {
	return s.Snapshot().TasksInColumn(slug)
}

// ColumnBySlug looks a column up in the snapshot.
func (s *Session) ColumnBySlug(slug string) (domain.Column, bool) {
	return s.Snapshot().ColumnBySlug(slug)
}

func (s *Session) run() {
	defer close(s.done)
	for ev := range s.sub.Events() {
		if ev.Board != "" && ev.Board != s.boardID {
			s.logger.Debugf("dropping event for foreign board %s", ev.Board)
			continue
		}
		s.mu.Lock()
		s.snap = applyEvent(s.snap, ev, s.logger)
		s.mu.Unlock()
		s.notify()
	}
	s.setState(Disconnected)
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.wmu.Lock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.wmu.Unlock()
}
