package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// Errors reproduced with the Redis server wording so callers see the same
// failures from every backend.
var (
	ErrWrongType     = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotInteger    = errors.New("ERR value is not an integer or out of range")
	ErrOverflow      = errors.New("ERR increment or decrement would overflow")
	ErrInvalidExpire = errors.New("ERR invalid expire time in 'setex' command")
)

var errMemoryClosed = errors.New("memory store is closed")

const defaultSweepEvery = 5 * time.Minute

type kind int

const (
	kindString kind = iota
	kindSet
	kindHash
)

type entry struct {
	kind       kind
	str        string
	set        map[string]struct{}
	hash       map[string]string
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryStore keeps strings, sets and hashes in one in-process keyspace.
// Every method holds the lock for its whole duration, so each call is atomic
// the way a single Redis command is.
type MemoryStore struct {
	data map[string]*entry
	mu   sync.Mutex

	stop      chan struct{}
	closeOnce sync.Once
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		data: make(map[string]*entry),
		stop: make(chan struct{}),
	}

	// Background cleanup of expired entries
	go store.cleanupExpired(defaultSweepEvery)

	return store
}

// lookup returns the live entry at key, dropping it first if it has expired.
// Callers must hold ms.mu.
func (ms *MemoryStore) lookup(key string) *entry {
	e, ok := ms.data[key]
	if !ok {
		return nil
	}
	if e.expired(time.Now()) {
		delete(ms.data, key)
		return nil
	}
	return e
}

func (ms *MemoryStore) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ms.closed {
		return errMemoryClosed
	}
	return nil
}

func (ms *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return 0, err
	}

	e := ms.lookup(key)
	var current int64
	if e != nil {
		if e.kind != kindString {
			return 0, ErrWrongType
		}
		n, err := parseInteger(e.str)
		if err != nil {
			return 0, err
		}
		current = n
	}
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	next := current + delta

	if e == nil {
		ms.data[key] = &entry{kind: kindString, str: strconv.FormatInt(next, 10)}
	} else {
		// INCRBY keeps the existing TTL
		e.str = strconv.FormatInt(next, 10)
	}
	return next, nil
}

// parseInteger accepts only the canonical decimal form Redis counts as an
// integer: no sign other than a leading minus, no leading zeros, no spaces.
func parseInteger(s string) (int64, error) {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || (digits[0] == '0' && s != "0") {
		return 0, ErrNotInteger
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, ErrNotInteger
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

func (ms *MemoryStore) Set(ctx context.Context, key, value string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	ms.data[key] = &entry{kind: kindString, str: value}
	return nil
}

func (ms *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}
	if ttlSeconds <= 0 {
		return ErrInvalidExpire
	}

	ms.data[key] = &entry{
		kind:       kindString,
		str:        value,
		expiration: time.Now().Add(time.Duration(ttlSeconds) * time.Second),
	}
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return "", err
	}

	e := ms.lookup(key)
	if e == nil {
		return "", ErrNotFound
	}
	if e.kind != kindString {
		return "", ErrWrongType
	}
	return e.str, nil
}

func (ms *MemoryStore) Remove(ctx context.Context, key string) error {
	return ms.Delete(ctx, key)
}

func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	delete(ms.data, key)
	return nil
}

func (ms *MemoryStore) GetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return nil, err
	}

	keys, err := ms.matchKeys(prefix)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		e := ms.data[key]
		if e.kind != kindString {
			return nil, ErrWrongType
		}
		values = append(values, e.str)
	}
	return values, nil
}

func (ms *MemoryStore) DelByPrefix(ctx context.Context, prefix string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	keys, err := ms.matchKeys(prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(ms.data, key)
	}
	return nil
}

func (ms *MemoryStore) SetHashSet(ctx context.Context, key, member string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	e := ms.lookup(key)
	if e == nil {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		ms.data[key] = e
	}
	if e.kind != kindSet {
		return ErrWrongType
	}
	e.set[member] = struct{}{}
	return nil
}

func (ms *MemoryStore) GetHashSet(ctx context.Context, key string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return nil, err
	}

	e := ms.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if e.kind != kindSet {
		return nil, ErrWrongType
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	return members, nil
}

func (ms *MemoryStore) RemoveHashSet(ctx context.Context, key, member string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	e := ms.lookup(key)
	if e == nil {
		return nil
	}
	if e.kind != kindSet {
		return ErrWrongType
	}
	delete(e.set, member)
	if len(e.set) == 0 {
		delete(ms.data, key)
	}
	return nil
}

func (ms *MemoryStore) GetSetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return nil, err
	}

	keys, err := ms.matchKeys(prefix)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	seen := make(map[string]struct{})
	union := make([]string, 0)
	for _, key := range keys {
		e := ms.data[key]
		if e.kind != kindSet {
			return nil, ErrWrongType
		}
		for m := range e.set {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			union = append(union, m)
		}
	}
	return union, nil
}

func (ms *MemoryStore) SetHashMap(ctx context.Context, key, field, value string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	e := ms.lookup(key)
	if e == nil {
		e = &entry{kind: kindHash, hash: make(map[string]string)}
		ms.data[key] = e
	}
	if e.kind != kindHash {
		return ErrWrongType
	}
	e.hash[field] = value
	return nil
}

func (ms *MemoryStore) GetHashMap(ctx context.Context, key, field string) (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return "", err
	}

	e, err := ms.hashEntry(key)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", ErrNotFound
	}
	val, ok := e.hash[field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (ms *MemoryStore) GetHashMapList(ctx context.Context, key string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return nil, err
	}

	e, err := ms.hashEntry(key)
	if err != nil || e == nil {
		return []string{}, err
	}
	values := make([]string, 0, len(e.hash))
	for _, v := range e.hash {
		values = append(values, v)
	}
	return values, nil
}

func (ms *MemoryStore) GetHashMaps(ctx context.Context, key string) (map[string]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return nil, err
	}

	e, err := ms.hashEntry(key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if e == nil {
		return out, nil
	}
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

func (ms *MemoryStore) GetHashKeys(ctx context.Context, key, substr string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return nil, err
	}

	e, err := ms.hashEntry(key)
	if err != nil || e == nil {
		return []string{}, err
	}
	fields := make([]string, 0, len(e.hash))
	for f := range e.hash {
		fields = append(fields, f)
	}
	return filterContains(fields, substr), nil
}

func (ms *MemoryStore) DeleteHashKeys(ctx context.Context, key string, fields ...string) error {
	if strings.TrimSpace(key) == "" || len(fields) == 0 {
		return nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.begin(ctx); err != nil {
		return err
	}

	e, err := ms.hashEntry(key)
	if err != nil || e == nil {
		return err
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		delete(ms.data, key)
	}
	return nil
}

// Keys lists every live key. It is not part of Store; seeding and tests use it.
func (ms *MemoryStore) Keys() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(ms.data))
	for key, e := range ms.data {
		if !e.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Close stops the background sweeper. Calls after Close fail.
func (ms *MemoryStore) Close() error {
	ms.closeOnce.Do(func() {
		ms.mu.Lock()
		ms.closed = true
		ms.mu.Unlock()
		close(ms.stop)
	})
	return nil
}

func (ms *MemoryStore) hashEntry(key string) (*entry, error) {
	e := ms.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindHash {
		return nil, ErrWrongType
	}
	return e, nil
}

// matchKeys returns the live keys matching prefix* using Redis-style glob
// rules. Callers must hold ms.mu.
func (ms *MemoryStore) matchKeys(prefix string) ([]string, error) {
	g, err := glob.Compile(redisGlob(prefixPattern(prefix)))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var keys []string
	for key, e := range ms.data {
		if e.expired(now) {
			delete(ms.data, key)
			continue
		}
		if g.Match(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// redisGlob rewrites a KEYS pattern into gobwas/glob syntax. Braces and
// commas are plain characters to Redis, so they are escaped, and a negated
// class [^...] becomes [!...].
func redisGlob(pattern string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			i++
			b.WriteByte(pattern[i])
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				b.WriteByte('!')
				i++
			}
		case c == '{' || c == '}' || c == ',':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Background cleanup of expired entries
func (ms *MemoryStore) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ms.stop:
			return
		case <-ticker.C:
			ms.sweep()
		}
	}
}

func (ms *MemoryStore) sweep() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for key, e := range ms.data {
		if e.expired(now) {
			delete(ms.data, key)
		}
	}
}
