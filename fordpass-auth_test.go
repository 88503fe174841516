package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestLoginFullFlow(t *testing.T) {
	ResetTestDB()
	f := newFakeFord()
	defer f.Close()
	api := newTestAPI(f)

	err := api.Login()
	assert.Nil(t, err)
	assert.NotNil(t, api.creds)
	assert.Equal(t, "primary-token-1", api.creds.AccessToken)
	assert.Equal(t, "primary-refresh-1", api.creds.RefreshToken)
	assert.Equal(t, "auto-token-1", api.creds.AutoToken)
	assert.True(t, api.creds.HasAutonomic())
	assert.Equal(t, 1, f.Hits("authorize"))
	assert.Equal(t, 1, f.Hits("login"))
	assert.Equal(t, 1, f.Hits("confirm"))
	assert.Equal(t, 1, f.Hits("oidcToken"))
	assert.Equal(t, 1, f.Hits("catLogin"))
	assert.Equal(t, 1, f.Hits("exchange"))
}

func TestLoginRejectedCredentials(t *testing.T) {
	ResetTestDB()
	f := newFakeFord()
	defer f.Close()
	f.RejectPassword = true
	api := newTestAPI(f)

	err := api.Login()
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Nil(t, api.creds)
	assert.Equal(t, 0, f.Hits("catLogin"))
	assert.Equal(t, 0, f.Hits("exchange"))
}

func TestLoginPersistsCompleteSet(t *testing.T) {
	ResetTestDB()
	f := newFakeFord()
	defer f.Close()
	api := newTestAPI(f)
	api.Store = NewDBTokenStore(api.Username)

	err := api.Login()
	assert.Nil(t, err)

	stored, err := api.Store.Load()
	assert.Nil(t, err)
	assert.Equal(t, "primary-token-1", stored.AccessToken)
	assert.Equal(t, "auto-token-1", stored.AutoToken)
	assert.True(t, stored.HasAutonomic())
}

func TestParseAuthorizationRedirect(t *testing.T) {
	code, grantID, err := parseAuthorizationRedirect("fordapp://userauthorized/?code=abc&grant_id=xyz")
	assert.Nil(t, err)
	assert.Equal(t, "abc", code)
	assert.Equal(t, "xyz", grantID)

	_, _, err = parseAuthorizationRedirect("fordapp://userauthorized/?code=abc")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, _, err = parseAuthorizationRedirect("")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestTokenExpiryClampsToClaim(t *testing.T) {
	ResetTestDB()
	f := newFakeFord()
	defer f.Close()
	api := newTestAPI(f)
	now := GlobalMockTime.UTCNow()

	short := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": now.Add(2 * time.Minute).Unix(),
	})
	signed, err := short.SignedString([]byte("test-key"))
	assert.Nil(t, err)

	// the claim undercuts the advertised hour-long lifetime
	expiry := api.tokenExpiry(signed, 3600)
	assert.Equal(t, float64(now.Add(2*time.Minute).Unix()), expiry)

	// opaque tokens fall back to the advertised lifetime
	expiry = api.tokenExpiry("opaque-token", 3600)
	assert.Equal(t, float64(now.Add(time.Hour).Unix()), expiry)

	// a claim past the advertised lifetime never extends it
	long := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": now.Add(48 * time.Hour).Unix(),
	})
	signed, err = long.SignedString([]byte("test-key"))
	assert.Nil(t, err)
	expiry = api.tokenExpiry(signed, 3600)
	assert.Equal(t, float64(now.Add(time.Hour).Unix()), expiry)
}
