// Package redisstore indexes active sessions in redis so the exactly-one-active
// invariant per (user, charger) holds across service instances.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveSession is the cached marker for a running session.
type ActiveSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ChargerID string    `json:"charger_id"`
	Provider  string    `json:"provider"`
	StartedAt time.Time `json:"started_at"`
}

// Store manages the active session index.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns a redis-backed store. ttl bounds how long an abandoned
// marker can block a charger after a crash.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(userID, chargerID string) string {
	return fmt.Sprintf("sessions:active:%s:%s", userID, chargerID)
}

// Acquire atomically claims the (user, charger) slot. Returns false when
// another session already holds it.
func (s *Store) Acquire(ctx context.Context, session ActiveSession) (bool, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.key(session.UserID, session.ChargerID), data, s.ttl).Result()
}

// Get returns the current marker, or nil when the slot is free.
func (s *Store) Get(ctx context.Context, userID, chargerID string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(userID, chargerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Release frees the slot.
func (s *Store) Release(ctx context.Context, userID, chargerID string) error {
	err := s.client.Del(ctx, s.key(userID, chargerID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
