// Package ratelimit implements per-client sliding-window admission control.
package ratelimit

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = time.Minute
	DefaultMaxClients  = 10000

	maxShards = 16
)

type Config struct {
	MaxRequests int
	Window      time.Duration
	// MaxClients bounds the number of tracked clients. The least recently
	// seen client of a shard is dropped first, which can only ever grant it
	// a fresh window, never deny it.
	MaxClients int
}

// Limiter keeps, per client, the request instants inside the trailing window.
// Clients are spread over shards by hash, each shard with its own lock and
// LRU list; each window is updated under a per-client lock so the prune,
// count and append happen as one step.
type Limiter struct {
	max    int
	window time.Duration
	shards []*shard

	// lastSweep holds the UnixNano of the last idle sweep; zero means never.
	lastSweep atomic.Int64
}

type shard struct {
	mu       sync.Mutex
	capacity int
	clients  map[string]*list.Element
	lru      *list.List
}

type client struct {
	id       string
	lastSeen time.Time

	mu     sync.Mutex
	stamps []time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}

	n := min(maxShards, cfg.MaxClients)
	shards := make([]*shard, n)
	for i := range shards {
		// capacities add up to exactly MaxClients
		capacity := cfg.MaxClients / n
		if i < cfg.MaxClients%n {
			capacity++
		}
		shards[i] = &shard{
			capacity: capacity,
			clients:  make(map[string]*list.Element),
			lru:      list.New(),
		}
	}

	return &Limiter{
		max:    cfg.MaxRequests,
		window: cfg.Window,
		shards: shards,
	}
}

// Admit records a request from clientID at now and reports whether it fits
// under the quota. Rejected requests are not recorded.
func (l *Limiter) Admit(clientID string, now time.Time) bool {
	l.maybeSweep(now)
	c := l.shardFor(clientID).lookup(clientID, now)

	c.mu.Lock()
	defer c.mu.Unlock()

	keep := c.stamps[:0]
	for _, t := range c.stamps {
		if now.Sub(t) < l.window {
			keep = append(keep, t)
		}
	}
	c.stamps = keep

	if len(c.stamps) >= l.max {
		return false
	}
	c.stamps = append(c.stamps, now)
	return true
}

// RetryAfter estimates how long clientID must wait for a free slot.
func (l *Limiter) RetryAfter(clientID string, now time.Time) time.Duration {
	s := l.shardFor(clientID)
	s.mu.Lock()
	el, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	c := el.Value.(*client)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stamps) < l.max {
		return 0
	}
	wait := l.window - now.Sub(c.stamps[len(c.stamps)-l.max])
	if wait < 0 {
		return 0
	}
	return wait
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.clients)
		s.mu.Unlock()
	}
	return n
}

func (l *Limiter) shardFor(clientID string) *shard {
	return l.shards[xxhash.Sum64String(clientID)%uint64(len(l.shards))]
}

// maybeSweep drops idle clients from every shard at most once per half
// window. One caller wins the compare-and-swap and does the walk, locking
// one shard at a time.
func (l *Limiter) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.window/2) {
		return
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	for _, s := range l.shards {
		s.mu.Lock()
		s.evictIdle(now, l.window)
		s.mu.Unlock()
	}
}

func (s *shard) lookup(clientID string, now time.Time) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.clients[clientID]; ok {
		c := el.Value.(*client)
		if now.After(c.lastSeen) {
			c.lastSeen = now
		}
		s.lru.MoveToFront(el)
		return c
	}

	c := &client{id: clientID, lastSeen: now}
	s.clients[clientID] = s.lru.PushFront(c)
	for s.lru.Len() > s.capacity {
		s.remove(s.lru.Back())
	}
	return c
}

// evictIdle drops clients that have not been seen for a whole window; their
// windows would be empty anyway. The list is ordered by recency, so the walk
// stops at the first live client.
func (s *shard) evictIdle(now time.Time, window time.Duration) {
	for el := s.lru.Back(); el != nil; el = s.lru.Back() {
		if now.Sub(el.Value.(*client).lastSeen) < window {
			return
		}
		s.remove(el)
	}
}

func (s *shard) remove(el *list.Element) {
	c := s.lru.Remove(el).(*client)
	delete(s.clients, c.id)
}
