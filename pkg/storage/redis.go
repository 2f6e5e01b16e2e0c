package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/z-wentao/capflow/pkg/models"
)

// RedisStore keeps session and chunk records in Redis as JSON values with a
// TTL, plus a per-session sorted set indexing chunk indices.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl, ctx: ctx}, nil
}

func sessionKey(sessionID string) string {
	return "capflow:session:" + sessionID
}

func chunkKey(sessionID string, index int) string {
	return fmt.Sprintf("capflow:chunk:%s:%d", sessionID, index)
}

func chunkIndexKey(sessionID string) string {
	return "capflow:chunks:" + sessionID
}

// SaveSession inserts or replaces a session record.
func (r *RedisStore) SaveSession(session *models.Session) error {
	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(r.ctx, sessionKey(session.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession looks a session up by id.
func (r *RedisStore) GetSession(sessionID string) (*models.Session, error) {
	data, err := r.client.Get(r.ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// UpdateSession applies fn to the stored record and writes it back.
func (r *RedisStore) UpdateSession(sessionID string, fn func(*models.Session)) error {
	session, err := r.GetSession(sessionID)
	if err != nil {
		return err
	}
	fn(session)
	return r.SaveSession(session)
}

// SaveChunk inserts or replaces a chunk record and registers its index in
// the session's chunk set.
func (r *RedisStore) SaveChunk(chunk *models.Chunk) error {
	chunk.UpdatedAt = time.Now()
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	key := chunkKey(chunk.SessionID, chunk.Index)
	if err := r.client.Set(r.ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}

	if err := r.client.ZAdd(r.ctx, chunkIndexKey(chunk.SessionID), redis.Z{
		Score:  float64(chunk.Index),
		Member: strconv.Itoa(chunk.Index),
	}).Err(); err != nil {
		return fmt.Errorf("index chunk: %w", err)
	}
	r.client.Expire(r.ctx, chunkIndexKey(chunk.SessionID), r.ttl)

	return nil
}

// GetChunk looks a chunk up by session id and index.
func (r *RedisStore) GetChunk(sessionID string, index int) (*models.Chunk, error) {
	data, err := r.client.Get(r.ctx, chunkKey(sessionID, index)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("chunk not found: %s/%d", sessionID, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}

	var chunk models.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &chunk, nil
}

// UpdateChunk applies fn to the stored record and writes it back.
func (r *RedisStore) UpdateChunk(sessionID string, index int, fn func(*models.Chunk)) error {
	chunk, err := r.GetChunk(sessionID, index)
	if err != nil {
		return err
	}
	fn(chunk)
	return r.SaveChunk(chunk)
}

// ListChunks returns every chunk of a session ordered by index.
func (r *RedisStore) ListChunks(sessionID string) ([]*models.Chunk, error) {
	members, err := r.client.ZRange(r.ctx, chunkIndexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chunk index: %w", err)
	}

	chunks := make([]*models.Chunk, 0, len(members))
	for _, m := range members {
		index, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		chunk, err := r.GetChunk(sessionID, index)
		if err != nil {
			// Possibly expired; drop from the index.
			r.client.ZRem(r.ctx, chunkIndexKey(sessionID), m)
			continue
		}
		chunks = append(chunks, chunk)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DeleteSession removes a session and all its chunks.
func (r *RedisStore) DeleteSession(sessionID string) error {
	members, _ := r.client.ZRange(r.ctx, chunkIndexKey(sessionID), 0, -1).Result()
	for _, m := range members {
		if index, err := strconv.Atoi(m); err == nil {
			r.client.Del(r.ctx, chunkKey(sessionID, index))
		}
	}
	r.client.Del(r.ctx, chunkIndexKey(sessionID))

	deleted, err := r.client.Del(r.ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
