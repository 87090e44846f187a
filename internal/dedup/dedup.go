// Package dedup guards content hashes that are being processed, so that two
// workers holding byte-identical documents never both reach the commit step.
// A claim covers the in-flight window only; the store's unique content hash
// remains the final arbiter once a record exists.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Claimer reserves a content hash for one owner.
type Claimer interface {
	// Claim reports whether owner now holds hash. Re-claiming a hash the
	// owner already holds succeeds.
	Claim(ctx context.Context, hash, owner string) (bool, error)
	// Release frees hash if owner still holds it.
	Release(ctx context.Context, hash, owner string) error
}

// MemoryClaimer is the in-process claimer.
type MemoryClaimer struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{owners: make(map[string]string)}
}

func (m *MemoryClaimer) Claim(_ context.Context, hash, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.owners[hash]; ok {
		return cur == owner, nil
	}
	m.owners[hash] = owner
	return true, nil
}

func (m *MemoryClaimer) Release(_ context.Context, hash, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[hash] == owner {
		delete(m.owners, hash)
	}
	return nil
}

// Held returns the number of active claims.
func (m *MemoryClaimer) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}

// KV is the subset of the Redis client a RedisClaimer needs.
type KV interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// RedisClaimer shares claims between consumer processes. Claims expire after
// ttl so a crashed worker cannot hold a hash forever.
type RedisClaimer struct {
	kv     KV
	prefix string
	ttl    time.Duration
	isNil  func(error) bool
}

// NewRedisClaimer builds a claimer over kv. isNil recognises the client's
// "key does not exist" error.
func NewRedisClaimer(kv KV, prefix string, ttl time.Duration, isNil func(error) bool) *RedisClaimer {
	if prefix == "" {
		prefix = "docarchive:claim:"
	}
	return &RedisClaimer{kv: kv, prefix: prefix, ttl: ttl, isNil: isNil}
}

func (r *RedisClaimer) Claim(ctx context.Context, hash, owner string) (bool, error) {
	key := r.prefix + hash
	ok, err := r.kv.SetNX(ctx, key, owner, r.ttl)
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", hash, err)
	}
	if ok {
		return true, nil
	}
	cur, err := r.kv.Get(ctx, key)
	if err != nil {
		if r.isNil != nil && r.isNil(err) {
			return r.Claim(ctx, hash, owner)
		}
		return false, fmt.Errorf("reading claim %s: %w", hash, err)
	}
	return cur == owner, nil
}

func (r *RedisClaimer) Release(ctx context.Context, hash, owner string) error {
	if _, err := r.kv.CompareAndDelete(ctx, r.prefix+hash, owner); err != nil {
		return fmt.Errorf("releasing %s: %w", hash, err)
	}
	return nil
}

// Chain requires every claimer to grant a claim. A partial claim is undone.
type Chain []Claimer

func (c Chain) Claim(ctx context.Context, hash, owner string) (bool, error) {
	for i, cl := range c {
		ok, err := cl.Claim(ctx, hash, owner)
		if err != nil || !ok {
			for _, prev := range c[:i] {
				prev.Release(ctx, hash, owner)
			}
			return false, err
		}
	}
	return true, nil
}

func (c Chain) Release(ctx context.Context, hash, owner string) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(ctx, hash, owner); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
