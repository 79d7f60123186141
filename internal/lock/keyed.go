// Package lock provides the two advisory locks §4.7/§4.11/§4.10 call for:
// a per-(user, thread_id) critical section around resolver.Resolve so two
// messages of the same thread never score against each other's half-written
// state, and a per-job singleflight guard so two scheduler replicas never
// run the same periodic job for the same user concurrently.
package lock

import "sync"

// KeyedMutex hands out an exclusive lock per string key, correct within one
// process regardless of how many goroutines hold keys concurrently. This is
// the mechanism backing the resolver's per-(user, thread_id) critical
// section (§4.7 "Concurrency"): it costs nothing when two callers use
// different keys and serializes fully when they share one.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is exclusively held and returns the unlock func.
// Callers must call the returned func exactly once.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &refMutex{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
