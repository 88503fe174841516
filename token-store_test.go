package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	location := filepath.Join(t.TempDir(), "token.txt")
	store := NewFileTokenStore(location)

	creds := &CredentialSet{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiryDate:   1700000000,
		AutoToken:    "auto",
		AutoRefresh:  "auto-refresh",
		AutoExpiry:   1700000100,
	}
	assert.Nil(t, store.Save(creds))

	loaded, err := store.Load()
	assert.Nil(t, err)
	assert.Equal(t, creds, loaded)
}

func TestFileTokenStoreMissing(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "nope.txt"))
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoStoredToken)
}

func TestFileTokenStoreMalformed(t *testing.T) {
	location := filepath.Join(t.TempDir(), "token.txt")
	assert.Nil(t, os.WriteFile(location, []byte("not even json"), 0600))
	store := NewFileTokenStore(location)
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrMalformedTokenState)
}

func TestFileTokenStoreMissingPrimaryFields(t *testing.T) {
	location := filepath.Join(t.TempDir(), "token.txt")
	assert.Nil(t, os.WriteFile(location, []byte(`{"access_token":"only-half"}`), 0600))
	store := NewFileTokenStore(location)
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrMalformedTokenState)
}

func TestFileTokenStoreDropsPartialAutonomic(t *testing.T) {
	location := filepath.Join(t.TempDir(), "token.txt")
	doc := `{"access_token":"a","refresh_token":"r","expiry_date":1700000000,"auto_token":"half"}`
	assert.Nil(t, os.WriteFile(location, []byte(doc), 0600))
	store := NewFileTokenStore(location)

	loaded, err := store.Load()
	assert.Nil(t, err)
	assert.False(t, loaded.HasAutonomic())
	assert.Equal(t, "", loaded.AutoToken)
}

func TestFileTokenStoreClear(t *testing.T) {
	location := filepath.Join(t.TempDir(), "token.txt")
	store := NewFileTokenStore(location)
	assert.Nil(t, store.Save(&CredentialSet{AccessToken: "a", RefreshToken: "r", ExpiryDate: 1}))
	assert.Nil(t, store.Clear())
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoStoredToken)
	// clearing twice is fine
	assert.Nil(t, store.Clear())
}

func TestDBTokenStoreRoundTrip(t *testing.T) {
	ResetTestDB()
	store := NewDBTokenStore("someone@example.com")

	creds := &CredentialSet{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiryDate:   1700000000,
	}
	assert.Nil(t, store.Save(creds))

	// the persisted value is encrypted at rest
	var raw string
	GetDB().GetConnection().QueryRow("select value from settings where key = ?", store.Key).Scan(&raw)
	assert.True(t, strings.HasPrefix(raw, "c:"))
	assert.NotContains(t, raw, "access")

	loaded, err := store.Load()
	assert.Nil(t, err)
	assert.Equal(t, creds.AccessToken, loaded.AccessToken)

	assert.Nil(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoStoredToken)
}

func TestCredentialSetExpiry(t *testing.T) {
	now := time.Now().UTC()
	creds := &CredentialSet{
		ExpiryDate: float64(now.Add(time.Minute).Unix()),
		AutoExpiry: float64(now.Add(-time.Minute).Unix()),
	}
	assert.False(t, creds.PrimaryExpired(now))
	assert.True(t, creds.AutonomicExpired(now))
	assert.True(t, creds.PrimaryExpired(now.Add(2*time.Minute)))
}
