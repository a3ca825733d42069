package repo

import "sync"

// keyedMutex serializes operations per key (here, per DID), matching
// spec.md §5's "the RPC layer serializes write operations per DID behind
// a mutex; reads may proceed concurrently". Commits across different
// DIDs have no ordering relative to each other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

// Lock acquires the mutex for key and returns a function to release it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
