package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"planner-api/domain"
)

type backend interface {
	ListTasks(ctx context.Context, userID, start, end string) ([]domain.Task, error)
	ApplyTaskBatch(ctx context.Context, userID string, batch domain.TaskBatch) error
	ListBacklogs(ctx context.Context, userID string) ([]domain.Backlog, error)
	ApplyBacklogBatch(ctx context.Context, userID string, batch domain.BacklogBatch) error
}

// Cache wraps a Storage instance with Redis-backed caching for the list
// reads. Each user's lists carry a version counter that every write bumps, so
// entries written before a mutation can never be served after it, even across
// instances sharing the same Redis.
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

func (c *Cache) ListTasks(ctx context.Context, userID, start, end string) ([]domain.Task, error) {
	key := c.tasksCacheKey(ctx, userID, start, end)
	if tasks, ok := loadList[domain.Task](ctx, c, key); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	c.storeList(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) ApplyTaskBatch(ctx context.Context, userID string, batch domain.TaskBatch) error {
	if err := c.base.ApplyTaskBatch(ctx, userID, batch); err != nil {
		return err
	}
	c.bump(ctx, taskVersionKey(userID))
	return nil
}

func (c *Cache) ListBacklogs(ctx context.Context, userID string) ([]domain.Backlog, error) {
	key := c.backlogsCacheKey(ctx, userID)
	if items, ok := loadList[domain.Backlog](ctx, c, key); ok {
		return items, nil
	}

	items, err := c.base.ListBacklogs(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeList(ctx, key, items)
	return items, nil
}

func (c *Cache) ApplyBacklogBatch(ctx context.Context, userID string, batch domain.BacklogBatch) error {
	if err := c.base.ApplyBacklogBatch(ctx, userID, batch); err != nil {
		return err
	}
	c.bump(ctx, backlogVersionKey(userID))
	return nil
}

func loadList[T any](ctx context.Context, c *Cache, key string) ([]T, bool) {
	if c.redis == nil || key == "" {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) storeList(ctx context.Context, key string, items any) {
	if c.redis == nil || c.ttl == 0 || key == "" {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// bump invalidates every cached list of the user by moving its version
// forward. Old entries expire on their TTL.
func (c *Cache) bump(ctx context.Context, versionKey string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, versionKey).Err()
}

// version reads the user's current list version. Errors disable caching for
// the request rather than risking a stale read.
func (c *Cache) version(ctx context.Context, versionKey string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	v, err := c.redis.Get(ctx, versionKey).Int64()
	if err == redis.Nil {
		return "0", true
	}
	if err != nil {
		return "", false
	}
	return strconv.FormatInt(v, 10), true
}

func (c *Cache) tasksCacheKey(ctx context.Context, userID, start, end string) string {
	v, ok := c.version(ctx, taskVersionKey(userID))
	if !ok {
		return ""
	}
	return "tasks:" + userID + ":" + v + ":" + start + ":" + end
}

func (c *Cache) backlogsCacheKey(ctx context.Context, userID string) string {
	v, ok := c.version(ctx, backlogVersionKey(userID))
	if !ok {
		return ""
	}
	return "backlogs:" + userID + ":" + v
}

func taskVersionKey(userID string) string    { return "tasksver:" + userID }
func backlogVersionKey(userID string) string { return "backlogsver:" + userID }
