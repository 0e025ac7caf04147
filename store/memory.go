package store

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryKV is an in-process KV driver with the same operation semantics as
// the Redis driver, minus persistence. It backs the degraded mode used when
// Redis is unreachable at startup, and doubles as the test fixture.
//
// TTLs are tracked but enforced lazily: expired entries are dropped the next
// time the key is touched.
type MemoryKV struct {
	mu sync.Mutex

	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time

	now func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// purgeExpiredLocked drops the key from every namespace if its TTL passed.
func (m *MemoryKV) purgeExpiredLocked(key string) {
	deadline, ok := m.expiry[key]
	if !ok || m.now().Before(deadline) {
		return
	}
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	delete(m.sets, key)
	delete(m.expiry, key)
}

func (m *MemoryKV) setExpiryLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	val, ok := m.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	m.setExpiryLocked(key, ttl)
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.lists, key)
		delete(m.sets, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *MemoryKV) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	cur := int64(0)
	if raw, ok := m.strings[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errors.Errorf("value at %s is not an integer", key)
		}
		cur = parsed
	}
	cur += delta
	m.strings[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *MemoryKV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryKV) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	val, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *MemoryKV) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemoryKV) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	cur := int64(0)
	if raw, ok := h[field]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, errors.Errorf("hash field %s.%s is not an integer", key, field)
		}
		cur = parsed
	}
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *MemoryKV) RPush(_ context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

// normalizeRange maps Redis-style inclusive indices (negative counts from the
// end) onto [start, stop+1) clamped to the list bounds. ok is false when the
// range selects nothing.
func normalizeRange(length int64, start, stop int64) (int64, int64, bool) {
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
	if length == 0 || start > stop || start >= length || stop < 0 {
		return 0, 0, false
	}
	return start, stop + 1, true
}

func (m *MemoryKV) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	list := m.lists[key]
	lo, hi, ok := normalizeRange(int64(len(list)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo)
	copy(out, list[lo:hi])
	return out, nil
}

func (m *MemoryKV) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	list := m.lists[key]
	lo, hi, ok := normalizeRange(int64(len(list)), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	trimmed := make([]string, hi-lo)
	copy(trimmed, list[lo:hi])
	m.lists[key] = trimmed
	return nil
}

func (m *MemoryKV) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	return int64(len(m.lists[key])), nil
}

func (m *MemoryKV) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

func (m *MemoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryKV) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	for _, member := range members {
		delete(m.sets[key], member)
	}
	return nil
}

func (m *MemoryKV) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	return m.existsLocked(key), nil
}

func (m *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(key)
	if m.existsLocked(key) {
		m.setExpiryLocked(key, ttl)
	}
	return nil
}

func (m *MemoryKV) existsLocked(key string) bool {
	if _, ok := m.strings[key]; ok {
		return true
	}
	if _, ok := m.hashes[key]; ok {
		return true
	}
	if _, ok := m.lists[key]; ok {
		return true
	}
	_, ok := m.sets[key]
	return ok
}

func (m *MemoryKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(key string) {
		m.purgeExpiredLocked(key)
		if m.existsLocked(key) {
			if matched, _ := path.Match(pattern, key); matched {
				seen[key] = struct{}{}
			}
		}
	}
	for key := range m.strings {
		collect(key)
	}
	for key := range m.hashes {
		collect(key)
	}
	for key := range m.lists {
		collect(key)
	}
	for key := range m.sets {
		collect(key)
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryKV) Ping(context.Context) error {
	return nil
}

func (m *MemoryKV) Info(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.strings) + len(m.hashes) + len(m.lists) + len(m.sets)
	return "# Memory\nbackend:memory\nkeys:" + strconv.Itoa(total) + "\n", nil
}

func (m *MemoryKV) Close() error {
	return nil
}
