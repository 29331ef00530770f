// Package revocation keeps a deny-list of token identifiers. Entries live only
// as long as the token they revoke would have.
package revocation

import (
	"context"
	"sync"
	"time"
)

// List records revoked token ids until the token's own expiry.
//
// Revoke reports false when jti was already revoked, which lets callers treat
// a second use of a rotated token as a replay.
type List interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// sweepEvery bounds how many revocations happen between expiry sweeps.
const sweepEvery = 256

// MemoryList is a process-local List.
type MemoryList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	writes  int
	now     func() time.Time
}

func NewMemoryList(now func() time.Time) *MemoryList {
	if now == nil {
		now = time.Now
	}
	return &MemoryList{entries: make(map[string]time.Time), now: now}
}

func (l *MemoryList) Revoke(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	now := l.now()
	if !expiresAt.After(now) {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.entries[jti]; ok && exp.After(now) {
		return false, nil
	}
	l.entries[jti] = expiresAt
	l.writes++
	if l.writes >= sweepEvery {
		l.writes = 0
		for id, exp := range l.entries {
			if !exp.After(now) {
				delete(l.entries, id)
			}
		}
	}
	return true, nil
}

func (l *MemoryList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.entries[jti]
	if !ok {
		return false, nil
	}
	if !exp.After(l.now()) {
		delete(l.entries, jti)
		return false, nil
	}
	return true, nil
}

// Len returns the number of tracked entries, expired ones included.
func (l *MemoryList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Nop never revokes anything; it keeps tokens purely stateless.
type Nop struct{}

func (Nop) Revoke(context.Context, string, time.Time) (bool, error) { return true, nil }

func (Nop) IsRevoked(context.Context, string) (bool, error) { return false, nil }
