package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNoStoredToken = errors.New("no stored token")
var ErrMalformedTokenState = errors.New("malformed persisted token state")

// CredentialSet is the complete pair of token families plus expiries,
// persisted as a unit. The autonomic fields are either all present or
// all absent, never partially exchanged.
type CredentialSet struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiryDate   float64 `json:"expiry_date"`
	AutoToken    string  `json:"auto_token,omitempty"`
	AutoRefresh  string  `json:"auto_refresh,omitempty"`
	AutoExpiry   float64 `json:"auto_expiry,omitempty"`
}

func (c *CredentialSet) HasAutonomic() bool {
	return c.AutoToken != "" && c.AutoRefresh != "" && c.AutoExpiry != 0
}

func (c *CredentialSet) SetAutonomic(accessToken, refreshToken string, expiry float64) {
	c.AutoToken = accessToken
	c.AutoRefresh = refreshToken
	c.AutoExpiry = expiry
}

func (c *CredentialSet) ClearAutonomic() {
	c.AutoToken = ""
	c.AutoRefresh = ""
	c.AutoExpiry = 0
}

func (c *CredentialSet) PrimaryExpired(now time.Time) bool {
	return float64(now.Unix()) >= c.ExpiryDate
}

func (c *CredentialSet) AutonomicExpired(now time.Time) bool {
	return float64(now.Unix()) >= c.AutoExpiry
}

// normalize drops a partially present autonomic triple so the
// all-or-none invariant holds for whatever a store hands out.
func (c *CredentialSet) normalize() {
	if !c.HasAutonomic() {
		c.ClearAutonomic()
	}
}

// TokenStore persists the current CredentialSet across restarts.
type TokenStore interface {
	Load() (*CredentialSet, error)
	Save(creds *CredentialSet) error
	Clear() error
}

// FileTokenStore keeps the credential set as a single JSON document on
// disk, written atomically via a temp file.
type FileTokenStore struct {
	Location string
}

func NewFileTokenStore(location string) *FileTokenStore {
	return &FileTokenStore{Location: location}
}

func (s *FileTokenStore) Load() (*CredentialSet, error) {
	data, err := os.ReadFile(s.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoStoredToken
		}
		return nil, err
	}
	creds := &CredentialSet{}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedTokenState, err.Error())
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing primary token fields", ErrMalformedTokenState)
	}
	creds.normalize()
	return creds, nil
}

func (s *FileTokenStore) Save(creds *CredentialSet) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	tempFile := s.Location + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tempFile, s.Location); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}

func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.Location); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DBTokenStore keeps the same JSON document in the sqlite settings
// table, AES-GCM encrypted when a crypt key is configured.
type DBTokenStore struct {
	Key string
}

func NewDBTokenStore(username string) *DBTokenStore {
	return &DBTokenStore{Key: SettingTokenPrefix + username}
}

func (s *DBTokenStore) Load() (*CredentialSet, error) {
	value := GetDB().GetSetting(s.Key)
	if value == "" {
		return nil, ErrNoStoredToken
	}
	creds := &CredentialSet{}
	if err := json.Unmarshal([]byte(value), creds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedTokenState, err.Error())
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing primary token fields", ErrMalformedTokenState)
	}
	creds.normalize()
	return creds, nil
}

func (s *DBTokenStore) Save(creds *CredentialSet) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	GetDB().SetSetting(s.Key, string(data))
	return nil
}

func (s *DBTokenStore) Clear() error {
	GetDB().DeleteSetting(s.Key)
	return nil
}

// NewTokenStoreFromConfig picks the configured store, or nil when token
// persistence is disabled.
func NewTokenStoreFromConfig() TokenStore {
	cfg := GetConfig()
	if !cfg.SaveToken {
		return nil
	}
	if cfg.TokenStore == "db" {
		return NewDBTokenStore(cfg.Username)
	}
	if cfg.TokenLocation == "" {
		log.Warnln("token persistence enabled but no token location configured, disabling")
		return nil
	}
	return NewFileTokenStore(cfg.TokenLocation)
}
