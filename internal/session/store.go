package session

import (
	"context"
	"strconv"
	"time"

	"homework_bot/internal/cache"
	"homework_bot/internal/conversation"
)

const keyPrefix = "conversation:session:"

// Store keeps conversation sessions in Redis, one key per chat. Idle
// sessions expire after the ttl.
type Store struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewStore(c *cache.RedisCache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl}
}

func key(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}

func (s *Store) Load(ctx context.Context, chatID int64) (*conversation.Session, error) {
	b, ok, err := s.cache.Get(ctx, key(chatID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return conversation.NewSession(), nil
	}
	return conversation.DecodeSession(b)
}

func (s *Store) Save(ctx context.Context, chatID int64, sess *conversation.Session) error {
	b, err := conversation.EncodeSession(sess)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key(chatID), b, s.ttl)
}

func (s *Store) Reset(ctx context.Context, chatID int64) error {
	return s.cache.Delete(ctx, key(chatID))
}
