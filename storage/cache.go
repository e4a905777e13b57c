package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	FetchBoardState(ctx context.Context, boardID string) (domain.BoardState, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, boardID, taskID string) error
	InsertColumn(ctx context.Context, col domain.Column) error
	UpdateColumn(ctx context.Context, col domain.Column) error
	DeleteColumn(ctx context.Context, boardID, slug string) error
	InsertComment(ctx context.Context, cm domain.Comment) error
	DeleteComment(ctx context.Context, boardID, taskID, commentID string) error
}

// Cache wraps a Storage instance with Redis-backed caching of board state
// reads. Any mutation evicts the owning board so the next session open
// reloads fresh state.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchBoardState(ctx context.Context, boardID string) (domain.BoardState, error) {
	if state, ok := c.loadFromCache(ctx, boardID); ok {
		return state, nil
	}

	state, err := c.base.FetchBoardState(ctx, boardID)
	if err != nil {
		return domain.BoardState{}, err
	}

	c.store(ctx, boardID, state)
	return state, nil
}

func (c *Cache) InsertTask(ctx context.Context, task domain.Task) error {
	if err := c.base.InsertTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, task.BoardID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, task domain.Task) error {
	if err := c.base.UpdateTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, task.BoardID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, boardID, taskID string) error {
	if err := c.base.DeleteTask(ctx, boardID, taskID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) InsertColumn(ctx context.Context, col domain.Column) error {
	if err := c.base.InsertColumn(ctx, col); err != nil {
		return err
	}
	c.evict(ctx, col.BoardID)
	return nil
}

func (c *Cache) UpdateColumn(ctx context.Context, col domain.Column) error {
	if err := c.base.UpdateColumn(ctx, col); err != nil {
		return err
	}
	c.evict(ctx, col.BoardID)
	return nil
}

func (c *Cache) DeleteColumn(ctx context.Context, boardID, slug string) error {
	if err := c.base.DeleteColumn(ctx, boardID, slug); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) InsertComment(ctx context.Context, cm domain.Comment) error {
	if err := c.base.InsertComment(ctx, cm); err != nil {
		return err
	}
	c.evict(ctx, cm.BoardID)
	return nil
}

func (c *Cache) DeleteComment(ctx context.Context, boardID, taskID, commentID string) error {
	if err := c.base.DeleteComment(ctx, boardID, taskID, commentID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (domain.BoardState, bool) {
	if c.redis == nil {
		return domain.BoardState{}, false
	}
	data, err := c.redis.Get(ctx, boardStateCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardStateCacheKey(boardID)).Err()
		}
		return domain.BoardState{}, false
	}
	var state domain.BoardState
	if err := json.Unmarshal(data, &state); err != nil {
		_ = c.redis.Del(ctx, boardStateCacheKey(boardID)).Err()
		return domain.BoardState{}, false
	}
	return state, true
}

func (c *Cache) store(ctx context.Context, boardID string, state domain.BoardState) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardStateCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardStateCacheKey(boardID)).Result()
}

func boardStateCacheKey(boardID string) string {
	return "board:state:" + boardID
}
