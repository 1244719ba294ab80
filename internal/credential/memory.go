package credential

import "sync"

// MemoryStore keeps the credential in process memory. It is the default
// when no credential file is configured; a restart forgets the session.
type MemoryStore struct {
	mu        sync.RWMutex
	cred      Credential
	present   bool
	listeners map[int]func()
	nextID    int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listeners: make(map[int]func())}
}

func (s *MemoryStore) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.present
}

func (s *MemoryStore) Set(c Credential) error {
	s.mu.Lock()
	s.cred = c
	s.present = true
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.cred = Credential{}
	s.present = false
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *MemoryStore) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// snapshotListeners must be called with the lock held. Listeners run
// outside the lock so they may call back into the store.
func (s *MemoryStore) snapshotListeners() []func() {
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
