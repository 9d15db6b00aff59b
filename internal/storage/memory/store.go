package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/research-agent/backend/internal/storage/kv"
)

// Store is an in-process kv.Store. It backs the "memory" storage driver and
// doubles as the Redis stand-in in tests.
type Store struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	lists  map[string][]string
	zsets  map[string]map[string]float64
}

var _ kv.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
		zsets:  make(map[string]map[string]float64),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok || len(h) == 0 {
		return nil, kv.ErrNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HSet(ctx context.Context, key string, values map[string]string) error {
	return s.apply(ctx, func() { s.hset(key, values) })
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.apply(ctx, func() { s.del(keys...) })
}

func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	return s.apply(ctx, func() { s.lpush(key, values...) })
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	lo, hi, ok := bounds(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.apply(ctx, func() { s.zadd(key, score, member) })
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.zsets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if set[a] != set[b] {
			return set[a] < set[b]
		}
		return a < b
	})
	if rev {
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	}

	lo, hi, ok := bounds(int64(len(members)), start, stop)
	if !ok {
		return []string{}, nil
	}
	return members[lo : hi+1], nil
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	return s.apply(ctx, func() { s.zrem(key, members...) })
}

func (s *Store) Pipeline(ctx context.Context, fn func(p kv.Pipe) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := &pipe{}
	if err := fn(p); err != nil {
		return err
	}
	return s.apply(ctx, func() {
		for _, op := range p.ops {
			op(s)
		}
	})
}

func (s *Store) apply(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	return nil
}

func (s *Store) hset(key string, values map[string]string) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(values))
		s.hashes[key] = h
	}
	for k, v := range values {
		h[k] = v
	}
}

func (s *Store) del(keys ...string) {
	for _, k := range keys {
		delete(s.hashes, k)
		delete(s.lists, k)
		delete(s.zsets, k)
	}
}

func (s *Store) lpush(key string, values ...string) {
	list := s.lists[key]
	head := make([]string, 0, len(values)+len(list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	s.lists[key] = append(head, list...)
}

func (s *Store) zadd(key string, score float64, member string) {
	set, ok := s.zsets[key]
	if !ok {
		set = make(map[string]float64)
		s.zsets[key] = set
	}
	set[member] = score
}

func (s *Store) zrem(key string, members ...string) {
	set := s.zsets[key]
	for _, m := range members {
		delete(set, m)
	}
}

// bounds resolves Redis-style inclusive, possibly negative, indexes.
func bounds(length, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if length == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

type pipe struct {
	ops []func(s *Store)
}

func (p *pipe) HSet(key string, values map[string]string) {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	p.ops = append(p.ops, func(s *Store) { s.hset(key, copied) })
}

func (p *pipe) Del(keys ...string) {
	p.ops = append(p.ops, func(s *Store) { s.del(keys...) })
}

func (p *pipe) LPush(key string, values ...string) {
	p.ops = append(p.ops, func(s *Store) { s.lpush(key, values...) })
}

func (p *pipe) ZAdd(key string, score float64, member string) {
	p.ops = append(p.ops, func(s *Store) { s.zadd(key, score, member) })
}

func (p *pipe) ZRem(key string, members ...string) {
	p.ops = append(p.ops, func(s *Store) { s.zrem(key, members...) })
}
