package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func TestAdmitWithinQuota(t *testing.T) {
	l := New(Config{MaxRequests: 3, Window: 60 * time.Second})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit("A", start.Add(time.Duration(i)*time.Second)), "request %d", i)
	}
	assert.False(t, l.Admit("A", start.Add(10*time.Second)))

	// other clients have their own window
	assert.True(t, l.Admit("B", start.Add(10*time.Second)))

	assert.True(t, l.Admit("A", start.Add(61*time.Second)))
}

func TestWindowSlides(t *testing.T) {
	l := New(Config{MaxRequests: 2, Window: 10 * time.Second})

	assert.True(t, l.Admit("A", start))
	assert.True(t, l.Admit("A", start.Add(5*time.Second)))
	assert.False(t, l.Admit("A", start.Add(9*time.Second)))

	// the first instant leaves the window at exactly start+10s
	assert.True(t, l.Admit("A", start.Add(10*time.Second)))
	assert.False(t, l.Admit("A", start.Add(14*time.Second)))
	assert.True(t, l.Admit("A", start.Add(15*time.Second)))
}

func TestRejectedRequestsDoNotConsumeQuota(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: 10 * time.Second})

	assert.True(t, l.Admit("A", start))
	for i := 1; i < 10; i++ {
		assert.False(t, l.Admit("A", start.Add(time.Duration(i)*time.Second)))
	}
	assert.True(t, l.Admit("A", start.Add(10*time.Second)))
}

func TestRetryAfter(t *testing.T) {
	l := New(Config{MaxRequests: 2, Window: 10 * time.Second})

	assert.Zero(t, l.RetryAfter("A", start))
	l.Admit("A", start)
	l.Admit("A", start.Add(4*time.Second))
	assert.False(t, l.Admit("A", start.Add(6*time.Second)))
	assert.Equal(t, 4*time.Second, l.RetryAfter("A", start.Add(6*time.Second)))
}

func TestConcurrentAdmitsSameClient(t *testing.T) {
	l := New(Config{MaxRequests: 50, Window: time.Minute})

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("A", start) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), admitted.Load())
}

func TestClientIndexIsBounded(t *testing.T) {
	for _, maxClients := range []int{1, 3, 16, 50} {
		l := New(Config{MaxRequests: 1, Window: time.Minute, MaxClients: maxClients})

		for i := 0; i < 500; i++ {
			l.Admit(fmt.Sprintf("client-%d", i), start)
		}
		assert.LessOrEqual(t, l.Len(), maxClients, "max clients %d", maxClients)
		assert.Positive(t, l.Len())
	}
}

func TestEvictedClientStartsOver(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Minute, MaxClients: 1})

	assert.True(t, l.Admit("client-0", start))
	assert.False(t, l.Admit("client-0", start))
	assert.True(t, l.Admit("client-1", start))
	assert.Equal(t, 1, l.Len())

	// client-0 was evicted, so it gets a fresh window rather than a denial
	assert.True(t, l.Admit("client-0", start))
}

func TestShardCapacitiesSumToMaxClients(t *testing.T) {
	for _, maxClients := range []int{1, 3, 16, 17, 10000} {
		l := New(Config{MaxClients: maxClients})
		assert.Equal(t, min(maxShards, maxClients), len(l.shards))

		total := 0
		for _, s := range l.shards {
			assert.Positive(t, s.capacity)
			total += s.capacity
		}
		assert.Equal(t, maxClients, total)
	}
}

func TestClientsInOtherShardsAdmitConcurrently(t *testing.T) {
	l := New(Config{MaxRequests: 5, Window: time.Minute})

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for c := 0; c < 64; c++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if l.Admit(id, start) {
					admitted.Add(1)
				}
			}(fmt.Sprintf("client-%d", c))
		}
	}
	wg.Wait()

	assert.Equal(t, int32(64*5), admitted.Load())
	assert.Equal(t, 64, l.Len())
}

func TestIdleClientsExpire(t *testing.T) {
	l := New(Config{MaxRequests: 5, Window: time.Minute})

	l.Admit("A", start)
	l.Admit("B", start.Add(30*time.Second))
	assert.Equal(t, 2, l.Len())

	l.Admit("C", start.Add(61*time.Second))
	assert.Equal(t, 2, l.Len())

	l.Admit("D", start.Add(200*time.Second))
	assert.Equal(t, 1, l.Len())
}

func TestDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, DefaultMaxRequests, l.max)
	assert.Equal(t, DefaultWindow, l.window)
	assert.Len(t, l.shards, maxShards)
}
