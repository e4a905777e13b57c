package api

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/gateway"
	"boardsync/session"
)

// BoardHandle bundles the live session and the write gateway for one board.
type BoardHandle struct {
	Session *session.Session
	Gateway *gateway.Gateway
}

// Hub keeps one session per open board and hands out handles to request
// handlers. Sessions are created lazily on first access and live until the
// hub shuts down, so every request against the same board shares one feed
// subscription and one reconciled snapshot.
type Hub struct {
	store     Storage
	transport session.Transport
	logger    *log.Logger

	// sessions outlive individual requests; their subscriptions hang off
	// the hub's context, not the caller's
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	boards map[string]*BoardHandle
}

func NewHub(store Storage, transport session.Transport, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:     store,
		transport: transport,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		boards:    make(map[string]*BoardHandle),
	}
}

// Board returns the handle for boardID, opening a session on first use.
func (h *Hub) Board(ctx context.Context, boardID string) (*BoardHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle, ok := h.boards[boardID]; ok {
		return handle, nil
	}
	sess, err := session.Open(h.ctx, boardID, h.store, h.transport, h.logger)
	if err != nil {
		return nil, err
	}
	handle := &BoardHandle{
		Session: sess,
		Gateway: gateway.New(boardID, h.store, sess, h.logger),
	}
	h.boards[boardID] = handle
	h.logger.WithField("board", boardID).Debug("opened board session")
	return handle, nil
}

// Close tears down every open session.
func (h *Hub) Close() {
	h.mu.Lock()
	handles := make([]*BoardHandle, 0, len(h.boards))
	for _, handle := range h.boards {
		handles = append(handles, handle)
	}
	h.boards = make(map[string]*BoardHandle)
	h.mu.Unlock()
	for _, handle := range handles {
		handle.Session.Close()
	}
	h.cancel()
}
