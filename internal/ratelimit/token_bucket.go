// Package ratelimit provides the token bucket used to cap how fast a single
// signaling connection may send messages.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer number of tokens per second up to a fixed
// capacity. Balances are kept in nano-tokens (1e9 per token) so that refills
// are exact integer arithmetic: a rate of N tokens/sec adds N nano-tokens per
// elapsed nanosecond.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns
	balance  int64 // nano-tokens
	last     time.Time
}

const nanoPerToken = int64(time.Second)

// NewTokenBucket returns a full bucket. A non-positive capacity or rate yields a
// bucket that never allows anything; callers that want "unlimited" should not
// construct a bucket at all.
func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	rate := tokensPerSecond
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     rate,
		balance:  capacity,
		last:     clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.balance < cost {
		return false
	}
	b.balance -= cost
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		// Also covers a clock that went backwards: just move the reference.
		b.last = now
		return
	}
	b.last = now

	missing := b.capacity - b.balance
	if missing <= 0 || b.rate == 0 {
		return
	}
	// elapsed*rate may overflow; compare against the time needed to fill first.
	if elapsed >= missing/b.rate+1 {
		b.balance = b.capacity
		return
	}
	b.balance += elapsed * b.rate
	if b.balance > b.capacity {
		b.balance = b.capacity
	}
}

func toNano(tokens int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
