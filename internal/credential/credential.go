// Package credential is the single source of truth for "are we
// authenticated, and with what token". Credentials live behind a small
// Store interface so the persistence mechanism (memory, restricted file)
// is an injection decision, not an ambient global.
package credential

import "time"

// Credential holds the tokens obtained from a successful code exchange.
type Credential struct {
	AccessToken  string
	RefreshToken string // absent for some client configurations
	ExpiresAt    time.Time
}

// Valid reports whether the credential authenticates requests at the
// given instant: an access token is present and not yet expired.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt)
}

// Store persists at most one credential. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the stored credential, or ok=false when none is stored.
	Get() (cred Credential, ok bool)
	// Set replaces the stored credential and notifies subscribers.
	Set(Credential) error
	// Clear removes the stored credential and notifies subscribers.
	// Clearing an empty store is a no-op.
	Clear() error
	// OnChange registers fn to run after every Set or Clear. The returned
	// function unsubscribes.
	OnChange(fn func()) (unsubscribe func())
}
