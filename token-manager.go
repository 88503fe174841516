package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// EnsureValidTokens returns a credential set whose two token families
// are both usable, doing the minimum work to get there: nothing when
// both are fresh, a refresh or exchange when one is stale, and a full
// login only when the refresh token itself is rejected or no usable
// state exists. Safe for concurrent callers; at most one refresh or
// login runs at a time.
func (a *FordPassAPIImpl) EnsureValidTokens() (*CredentialSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.creds == nil {
		if err := a.loadStoredLocked(); err != nil {
			return nil, err
		}
	}
	if a.creds == nil || a.creds.AccessToken == "" || a.creds.RefreshToken == "" {
		if err := a.loginLocked(); err != nil {
			return nil, err
		}
		return a.credsSnapshotLocked(), nil
	}

	now := a.Time.UTCNow()
	changed := false

	// An absent secondary also forces a primary refresh first, since the
	// exchange consumes a current primary token.
	if a.creds.PrimaryExpired(now) || !a.creds.HasAutonomic() {
		err := a.refreshPrimaryLocked(a.creds)
		if errors.Is(err, errRefreshUnauthorized) {
			log.Infoln("refresh token rejected, performing full login")
			if err := a.loginLocked(); err != nil {
				return nil, err
			}
			return a.credsSnapshotLocked(), nil
		}
		if err != nil {
			return nil, err
		}
		// A new primary invalidates the exchanged pair.
		a.creds.ClearAutonomic()
		changed = true
	}

	if !a.creds.HasAutonomic() || a.creds.AutonomicExpired(now) {
		if err := a.acquireAutonomicLocked(a.creds); err != nil {
			return nil, err
		}
		changed = true
	}

	if changed {
		a.persistLocked()
	}
	return a.credsSnapshotLocked(), nil
}

// credsSnapshotLocked copies the current set so callers never hold a
// pointer that a later refresh mutates under the lock.
func (a *FordPassAPIImpl) credsSnapshotLocked() *CredentialSet {
	c := *a.creds
	return &c
}

// loadStoredLocked pulls persisted state into memory. Malformed state
// is discarded and replaced by a fresh login; a missing record just
// leaves creds nil for the caller to handle.
func (a *FordPassAPIImpl) loadStoredLocked() error {
	if a.Store == nil {
		return nil
	}
	creds, err := a.Store.Load()
	if errors.Is(err, ErrNoStoredToken) {
		return nil
	}
	if errors.Is(err, ErrMalformedTokenState) {
		log.Warnf("discarding unusable token state: %v", err)
		if err := a.Store.Clear(); err != nil {
			log.Errorf("could not clear token state: %v", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	a.creds = creds
	return nil
}

// Logout drops the in-memory credentials and the persisted record.
func (a *FordPassAPIImpl) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = nil
	if a.Store == nil {
		return nil
	}
	return a.Store.Clear()
}
