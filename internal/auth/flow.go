package auth

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// flowTTL bounds how long a login attempt may stay in flight, matching
// the lifetime of the state cookie.
const flowTTL = 5 * time.Minute

// Flow is the ephemeral session for one login attempt. It is keyed by
// its own state value, so concurrent attempts from different tabs never
// overwrite each other.
type Flow struct {
	State          string
	CodeVerifier   string // empty when PKCE is disabled
	RedirectTarget string // path to return to after login
}

// ConsumeResult is the outcome of attempting to consume a flow.
type ConsumeResult int

const (
	// ConsumeOK: the flow existed and is now consumed.
	ConsumeOK ConsumeResult = iota
	// ConsumeUnknown: no live flow with that state exists.
	ConsumeUnknown
	// ConsumeRepeat: the flow was already consumed by an earlier callback.
	ConsumeRepeat
)

type flowEntry struct {
	flow     Flow
	created  time.Time
	consumed bool
}

// FlowStore holds in-flight login attempts. Consumption is atomic and
// at-most-once, so a duplicate callback can never trigger a second
// token exchange.
type FlowStore struct {
	mu    sync.Mutex
	flows map[string]*flowEntry
	clock clockwork.Clock
}

// NewFlowStore creates an empty flow store.
func NewFlowStore(clock clockwork.Clock) *FlowStore {
	return &FlowStore{
		flows: make(map[string]*flowEntry),
		clock: clock,
	}
}

// Put registers a new login attempt keyed by its state value. Expired
// entries are pruned on the way.
func (s *FlowStore) Put(f Flow) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, e := range s.flows {
		if now.Sub(e.created) > flowTTL {
			delete(s.flows, state)
		}
	}
	s.flows[f.State] = &flowEntry{flow: f, created: now}
}

// Consume looks up the flow for a returned state and marks it consumed.
// The entry stays (consumed) until its TTL so repeats are recognizable.
func (s *FlowStore) Consume(state string) (Flow, ConsumeResult) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.flows[state]
	if !ok || now.Sub(e.created) > flowTTL {
		return Flow{}, ConsumeUnknown
	}
	if e.consumed {
		return Flow{}, ConsumeRepeat
	}
	e.consumed = true
	return e.flow, ConsumeOK
}

// Len returns the number of live (unexpired) flows.
func (s *FlowStore) Len() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.flows {
		if now.Sub(e.created) <= flowTTL {
			n++
		}
	}
	return n
}
