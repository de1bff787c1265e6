package conversation

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/sentinel/internal/safety"
)

const defaultShards = 32

// InMemoryStore keeps each conversation in a fixed-size ring. Users are
// spread over independently locked shards so unrelated users never contend.
type InMemoryStore struct {
	window int
	shards []*shard
	now    func() time.Time
	active atomic.Int64
}

type shard struct {
	mu    sync.Mutex
	convs map[string]*ring
}

type ring struct {
	buf          []safety.Message
	next         int
	filled       bool
	lastActivity time.Time
}

func NewInMemoryStore(window, shards int) *InMemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	if shards <= 0 {
		shards = defaultShards
	}
	s := &InMemoryStore{
		window: window,
		shards: make([]*shard, shards),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for i := range s.shards {
		s.shards[i] = &shard{convs: make(map[string]*ring)}
	}
	return s
}

func (s *InMemoryStore) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *InMemoryStore) Append(ctx context.Context, userID string, msg safety.Message) ([]safety.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.convs[userID]
	if !ok {
		r = &ring{buf: make([]safety.Message, s.window)}
		sh.convs[userID] = r
		s.active.Add(1)
	}
	r.buf[r.next] = msg
	r.next++
	if r.next >= len(r.buf) {
		r.next = 0
		r.filled = true
	}
	r.lastActivity = s.now()
	return r.snapshot(), nil
}

func (r *ring) snapshot() []safety.Message {
	if !r.filled {
		out := make([]safety.Message, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]safety.Message, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *ring) len() int {
	if r.filled {
		return len(r.buf)
	}
	return r.next
}

// History returns the current window for userID without modifying it.
func (s *InMemoryStore) History(userID string) []safety.Message {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.convs[userID]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Len returns the number of messages held for userID.
func (s *InMemoryStore) Len(userID string) int {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if r, ok := sh.convs[userID]; ok {
		return r.len()
	}
	return 0
}

// Conversations returns the number of tracked users.
func (s *InMemoryStore) Conversations() int {
	return int(s.active.Load())
}

func (s *InMemoryStore) EvictIdle(ctx context.Context, olderThan time.Time) (int, error) {
	evicted := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		sh.mu.Lock()
		for id, r := range sh.convs {
			if r.lastActivity.Before(olderThan) {
				delete(sh.convs, id)
				s.active.Add(-1)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted, nil
}

func (s *InMemoryStore) Close() error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		s.active.Add(-int64(len(sh.convs)))
		sh.convs = make(map[string]*ring)
		sh.mu.Unlock()
	}
	return nil
}
