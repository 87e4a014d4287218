package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"skillsling/internal/redis"
)

const (
	redisInvalidateChannel = "worker:invalidate"
	redisStateTTL          = 30 * time.Minute
)

const (
	scopeUser    = "user"
	scopeSession = "session"
)

type invalidateMessage struct {
	UserID    int64  `json:"user_id"`
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
}

// contextEntry is the redis payload for cached document context.
type contextEntry struct {
	FileKey string `json:"file_key"`
	Text    string `json:"text"`
}

// stateCache shares extracted document context between replicas and carries
// invalidation broadcasts. All operations fail soft when redis is absent.
type stateCache struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateCache {
	return &stateCache{client: client}
}

func (r *stateCache) startListener(handler func(invalidateMessage)) {
	if r == nil || r.client == nil || handler == nil {
		return
	}
	ch := r.client.Subscribe(context.Background(), redisInvalidateChannel)
	if ch == nil {
		return
	}
	go func() {
		for msg := range ch {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				log.Printf("worker invalidation decode failed: %v", err)
				continue
			}
			handler(inv)
		}
	}()
}

func (r *stateCache) publishInvalidation(msg invalidateMessage) {
	if r == nil || r.client == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("worker invalidation marshal failed: %v", err)
		return
	}
	if err := r.client.Publish(context.Background(), redisInvalidateChannel, payload); err != nil {
		log.Printf("worker publish invalidation failed: %v", err)
	}
}

func (r *stateCache) cacheContext(sessionID, fileKey, text string) {
	if r == nil || r.client == nil || sessionID == "" {
		return
	}
	data, err := json.Marshal(contextEntry{FileKey: fileKey, Text: text})
	if err != nil {
		log.Printf("worker cache context marshal failed: %v", err)
		return
	}
	if err := r.client.Set(context.Background(), contextKey(sessionID), data, redisStateTTL); err != nil {
		log.Printf("worker cache context failed: %v", err)
	}
}

func (r *stateCache) loadContext(sessionID, fileKey string) (string, bool) {
	if r == nil || r.client == nil || sessionID == "" {
		return "", false
	}
	raw, err := r.client.Get(context.Background(), contextKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("worker load context failed: %v", err)
		}
		return "", false
	}
	var entry contextEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.Printf("worker decode context failed: %v", err)
		return "", false
	}
	if entry.FileKey != fileKey {
		return "", false
	}
	return entry.Text, true
}

func (r *stateCache) invalidateContext(sessionID string) {
	if r == nil || r.client == nil || sessionID == "" {
		return
	}
	if err := r.client.Del(context.Background(), contextKey(sessionID)); err != nil && err != redis.ErrCacheMiss {
		log.Printf("worker invalidate context failed: %v", err)
	}
}

func contextKey(sessionID string) string {
	return "worker:context:" + sessionID
}
