package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Feed is the change-notification transport. Every confirmed store mutation
// is published on the owning board's channel and observed by all sessions
// subscribed to that board, including the one that issued the write.
type Feed struct {
	rc     *redis.Client
	logger *log.Logger
}

// New creates a Feed on the provided Redis client.
func New(rc *redis.Client, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Feed{rc: rc, logger: logger}
}

// Channel returns the pub/sub channel name for a board.
func Channel(boardID string) string {
	return "board:" + boardID
}

// Publish sends a change event to the board channel.
func (f *Feed) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rc.Publish(ctx, Channel(ev.Board), data).Err()
}

// Subscription is a live stream of change events for one board. Delivery is
// at-least-once; consumers must apply events idempotently.
type Subscription struct {
	events chan domain.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe opens a subscription for the board. The stream stays open until
// Close is called or the context is cancelled; if the underlying pub/sub
// channel drops while the context is alive, the subscription reconnects.
func (f *Feed) Subscribe(ctx context.Context, boardID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events: make(chan domain.ChangeEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run(ctx, boardID, s)
	return s
}

// Events returns the channel events are delivered on. It is closed when the
// subscription terminates.
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Close tears the subscription down and waits for the delivery loop to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (f *Feed) run(ctx context.Context, boardID string, s *Subscription) {
	defer close(s.done)
	defer close(s.events)

	for {
		sub := f.rc.Subscribe(ctx, Channel(boardID))
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.logger.WithError(err).Debug("dropping malformed feed payload")
					continue
				}
				if ev.Table == "" || ev.Op == "" {
					f.logger.Debugf("dropping incomplete feed event: %s", msg.Payload)
					continue
				}
				select {
				case s.events <- ev:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("feed channel closed, resubscribing")
		time.Sleep(time.Second)
	}
}
