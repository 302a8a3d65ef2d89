// Package journal keeps the latest snapshot of every live session in Redis, so that
// operators can see which legacy programs are busy and what they are doing.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/retrouci/internal/connector"
)

const ttlSession = 24 * time.Hour

// Entry is one journaled snapshot.
type Entry struct {
	Profile string `json:"profile"`
	connector.Snapshot
}

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keySession(id string) string { return "rs:session:" + strings.TrimSpace(id) }
func (s *Store) keyActive() string           { return "rs:active" }

// Save writes the entry and marks the session active.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.SessionID) == "" {
		return errors.New("journal: empty session id")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keySession(e.SessionID), raw, ttlSession)
	pipe.SAdd(ctx, s.keyActive(), e.SessionID)
	pipe.Expire(ctx, s.keyActive(), ttlSession)
	_, err = pipe.Exec(ctx)
	return err
}

// Finish writes the last entry and drops the session from the active set. The entry
// itself stays readable until its TTL runs out.
func (s *Store) Finish(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keySession(e.SessionID), raw, ttlSession)
	pipe.SRem(ctx, s.keyActive(), e.SessionID)
	_, err = pipe.Exec(ctx)
	return err
}

// Load는 없거나 만료된 세션이면 nil, nil을 반환.
func (s *Store) Load(ctx context.Context, id string) (*Entry, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Active는 살아있는 세션을 session id 순으로 나열. 엔트리가 만료된 id는 정리한다.
func (s *Store) Active(ctx context.Context) ([]Entry, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyActive()).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			_ = s.rdb.SRem(ctx, s.keyActive(), id).Err()
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}
