package out

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"medq/internal/modules/chat/domain"
	chatout "medq/internal/modules/chat/port/out"
)

// RedisStateStore keeps the same two keys as the file store, namespaced by
// prefix, and writes them in one MULTI/EXEC.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client, prefix string) chatout.StateStore {
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) sessionsKey() string { return s.prefix + sessionsKey }
func (s *RedisStateStore) selectedKey() string { return s.prefix + selectedKey }

func (s *RedisStateStore) Load(ctx context.Context) (domain.SessionsState, error) {
	state := domain.SessionsState{Sessions: []domain.Session{}}

	values, err := s.client.MGet(ctx, s.sessionsKey(), s.selectedKey()).Result()
	if err != nil {
		return domain.SessionsState{}, fmt.Errorf("read redis state: %w", err)
	}
	if raw, ok := values[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Sessions); err != nil {
			return domain.SessionsState{}, fmt.Errorf("decode sessions: %w", err)
		}
	}
	if selected, ok := values[1].(string); ok {
		state.SelectedSessionID = selected
	}
	if state.Sessions == nil {
		state.Sessions = []domain.Session{}
	}
	return state, nil
}

func (s *RedisStateStore) Save(ctx context.Context, state domain.SessionsState) error {
	sessions := state.Sessions
	if sessions == nil {
		sessions = []domain.Session{}
	}
	payload, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionsKey(), payload, 0)
		if state.SelectedSessionID == "" {
			pipe.Del(ctx, s.selectedKey())
		} else {
			pipe.Set(ctx, s.selectedKey(), state.SelectedSessionID, 0)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("write redis state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
