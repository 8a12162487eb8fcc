package localstore

import (
	"context"
	"reflect"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// keyLocks hands out one mutex per key so that read-modify-write cycles
// against the same key are serialized. There is no cross-key ordering.
// Entries are refcounted and removed once the last holder releases, so the
// table stays proportional to in-flight mutations rather than every key
// ever touched.
type keyLock struct {
	sync.Mutex
	refs int
}

type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) acquire(key string) *keyLock {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.Lock()
	return l
}

func (k *keyLocks) release(key string, l *keyLock) {
	l.Unlock()
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// WithStoredValue atomically mutates the value stored under key. The current
// value (or a deep copy of def when the key is absent) is passed to mutate by
// pointer; mutate may edit it in place or replace it entirely. If the result
// is deep-equal to def the key is deleted instead of persisted, so emptied
// collections reclaim their storage.
//
// This is the only sanctioned way to mutate the change log or send queue:
// calls against the same key are serialized by a per-key mutex.
func WithStoredValue[T any](ctx context.Context, s *Store, key string, def T, mutate func(*T) error) error {
	l := s.locks.acquire(key)
	defer s.locks.release(key, l)

	var value T
	found, err := s.Get(ctx, key, &value)
	if err != nil {
		return err
	}
	if !found {
		if err := deepcopy.Copy(&value, &def); err != nil {
			return err
		}
	}

	if err := mutate(&value); err != nil {
		return err
	}

	if equalsDefault(value, def) {
		return s.Remove(ctx, key)
	}
	return s.Set(ctx, key, value)
}

// equalsDefault is reflect.DeepEqual with nil and empty slices/maps treated
// as equal, so an emptied collection prunes its key regardless of how the
// mutator emptied it.
func equalsDefault(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() || va.Kind() != vb.Kind() {
		return false
	}
	switch va.Kind() {
	case reflect.Slice, reflect.Map:
		return va.Len() == 0 && vb.Len() == 0
	}
	return false
}
