// Package session keeps client-side workspace documents and revoked tokens
// in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"mindnote/api/internal/document"
)

var ErrNotFound = errors.New("cached workspace not found")

const defaultTTL = 30 * 24 * time.Hour

// RedisStore holds one hash of workspace documents per scope, keyed by
// title, plus the guest scopes linked to each user scope.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. Cached scopes expire ttl after their
// last write.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "mindnote:",
		ttl:    ttl,
	}
}

func (s *RedisStore) docsKey(scope string) string {
	return s.prefix + "cache:" + scope
}

func (s *RedisStore) linksKey(userScope string) string {
	return s.prefix + "links:" + userScope
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

// List returns the scope's documents ordered by title.
func (s *RedisStore) List(ctx context.Context, scope string) ([]document.Workspace, error) {
	entries, err := s.client.HGetAll(ctx, s.docsKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cached workspaces: %w", err)
	}

	titles := make([]string, 0, len(entries))
	for title := range entries {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	out := make([]document.Workspace, 0, len(titles))
	for _, title := range titles {
		var doc document.Workspace
		if err := json.Unmarshal([]byte(entries[title]), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal cached workspace %q: %w", title, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// Get returns one cached document.
func (s *RedisStore) Get(ctx context.Context, scope, title string) (document.Workspace, error) {
	raw, err := s.client.HGet(ctx, s.docsKey(scope), title).Result()
	if err == redis.Nil {
		return document.Workspace{}, ErrNotFound
	}
	if err != nil {
		return document.Workspace{}, fmt.Errorf("get cached workspace: %w", err)
	}
	var doc document.Workspace
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return document.Workspace{}, fmt.Errorf("unmarshal cached workspace %q: %w", title, err)
	}
	return doc, nil
}

// Put stores doc under its title, replacing any previous version.
func (s *RedisStore) Put(ctx context.Context, scope string, doc document.Workspace) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}

	key := s.docsKey(scope)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, doc.Title, payload)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache workspace: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, scope, title string) error {
	removed, err := s.client.HDel(ctx, s.docsKey(scope), title).Result()
	if err != nil {
		return fmt.Errorf("delete cached workspace: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, scope string) error {
	if err := s.client.Del(ctx, s.docsKey(scope)).Err(); err != nil {
		return fmt.Errorf("clear cache scope: %w", err)
	}
	return nil
}

// Link records that guestScope was migrated into userScope.
func (s *RedisStore) Link(ctx context.Context, guestScope, userScope string) error {
	key := s.linksKey(userScope)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, guestScope)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("link guest scope: %w", err)
	}
	return nil
}

func (s *RedisStore) Unlink(ctx context.Context, guestScope, userScope string) error {
	if err := s.client.SRem(ctx, s.linksKey(userScope), guestScope).Err(); err != nil {
		return fmt.Errorf("unlink guest scope: %w", err)
	}
	return nil
}

func (s *RedisStore) Linked(ctx context.Context, userScope string) ([]string, error) {
	scopes, err := s.client.SMembers(ctx, s.linksKey(userScope)).Result()
	if err != nil {
		return nil, fmt.Errorf("list linked scopes: %w", err)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Revoke marks a token id as unusable until the token would have expired.
func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
