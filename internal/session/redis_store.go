// Package session stores one-time websocket connect tickets. A ticket is
// minted at login, sent to the client, and consumed on the first upgrade
// attempt; Redis TTLs handle expiry. When Redis is not configured the
// Postgres store serves the same interface.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/api/internal/store"
)

// ticketData is the JSON blob stored per ticket hash.
type ticketData struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	Email    string    `json:"email"`
	IssuedAt time.Time `json:"issued_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client, prefix: "ticket:"}, nil
}

// NewRedisStoreWithClient wraps an existing client; tests use it with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ticket:"}
}

func (s *RedisStore) key(ticketHash string) string {
	return s.prefix + ticketHash
}

// SaveTicket stores a ticket under its hash with a TTL derived from
// expiresAt. Name and email ride along so the websocket session does not
// need a user lookup on connect.
func (s *RedisStore) SaveTicket(ctx context.Context, ticketHash string, user store.User, expiresAt time.Time) error {
	data := ticketData{
		UserID:   user.ID,
		UserName: user.Name,
		Email:    user.Email,
		IssuedAt: time.Now(),
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal ticket data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := s.client.Set(ctx, s.key(ticketHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// TakeTicket atomically fetches and deletes a ticket, so each ticket admits
// exactly one connection.
func (s *RedisStore) TakeTicket(ctx context.Context, ticketHash string) (store.User, error) {
	jsonData, err := s.client.GetDel(ctx, s.key(ticketHash)).Result()
	if err == redis.Nil {
		return store.User{}, fmt.Errorf("ticket not found or expired")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("take ticket: %w", err)
	}

	var data ticketData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal ticket data: %w", err)
	}

	return store.User{ID: data.UserID, Name: data.UserName, Email: data.Email}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
