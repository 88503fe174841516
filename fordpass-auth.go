package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var ErrTokenRefreshFailed = errors.New("token refresh failed")

// errRefreshUnauthorized marks a refresh rejected with a 401, which
// means the refresh token itself is dead and a full login is required.
var errRefreshUnauthorized = fmt.Errorf("%w: refresh token rejected", ErrTokenRefreshFailed)

const ssoClientID = "9fb503e0-715b-47e8-adfd-ad4b7770f73b"
const ssoRedirectURI = "fordapp://userauthorized"

var loginURLPattern = regexp.MustCompile(`data-ibm-login-url="([^"]+)"`)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login performs the full interactive-style sign-in against the identity
// provider and exchanges the result for both token families. Nothing is
// persisted until every stage succeeds.
func (a *FordPassAPIImpl) Login() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginLocked()
}

func (a *FordPassAPIImpl) loginLocked() error {
	log.Debugf("logging in account %s", a.Username)
	primary, err := a.ssoLogin()
	if err != nil {
		return err
	}
	creds := &CredentialSet{
		AccessToken:  primary.AccessToken,
		RefreshToken: primary.RefreshToken,
		ExpiryDate:   a.tokenExpiry(primary.AccessToken, primary.ExpiresIn),
	}
	if err := a.acquireAutonomicLocked(creds); err != nil {
		return err
	}
	a.creds = creds
	a.persistLocked()
	return nil
}

// ssoLogin walks the browser sign-in flow: fetch the authorize page,
// extract the embedded login action URL, post the credentials, follow
// the confirmation redirect to collect the authorization code, redeem
// the code for a provider token, and finally swap that for the vehicle
// API token pair.
func (a *FordPassAPIImpl) ssoLogin() (*tokenResponse, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	// Redirects are followed manually so the authorization code can be
	// read off the Location header of the custom-scheme redirect.
	client := &http.Client{
		Jar:     jar,
		Timeout: defaultRequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	authorizeURL := a.Endpoints.SSO + "/v1.0/endpoint/default/authorize?" + url.Values{
		"redirect_uri":          {ssoRedirectURI},
		"response_type":         {"code"},
		"max_age":               {"3600"},
		"scope":                 {"09852200-05fd-41f6-8c21-d36d3497dc64 openid"},
		"client_id":             {ssoClientID},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode()

	req, err := http.NewRequest("GET", authorizeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = defaultHeaders()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	page, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: authorize page returned %d", ErrAuthenticationFailed, resp.StatusCode)
	}
	match := loginURLPattern.FindSubmatch(page)
	if match == nil {
		return nil, fmt.Errorf("%w: login action not found on authorize page", ErrAuthenticationFailed)
	}
	loginURL := a.Endpoints.SSO + strings.ReplaceAll(string(match[1]), "&amp;", "&")

	form := url.Values{
		"operation":       {"verify"},
		"login-form-type": {"password"},
		"username":        {a.Username},
		"password":        {a.Password},
	}
	req, err = http.NewRequest("POST", loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header = loginFormHeaders()
	resp, err = client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("%w: credential check returned %d", ErrAuthenticationFailed, resp.StatusCode)
	}
	nextLocation := resp.Header.Get("Location")
	if nextLocation == "" {
		return nil, fmt.Errorf("%w: credential check returned no redirect target", ErrAuthenticationFailed)
	}
	if strings.HasPrefix(nextLocation, "/") {
		nextLocation = a.Endpoints.SSO + nextLocation
	}

	req, err = http.NewRequest("GET", nextLocation, nil)
	if err != nil {
		return nil, err
	}
	req.Header = defaultHeaders()
	resp, err = client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("%w: confirmation returned %d", ErrAuthenticationFailed, resp.StatusCode)
	}
	code, grantID, err := parseAuthorizationRedirect(resp.Header.Get("Location"))
	if err != nil {
		return nil, err
	}

	form = url.Values{
		"client_id":     {ssoClientID},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {ssoRedirectURI},
		"grant_id":      {grantID},
		"code":          {code},
		"code_verifier": {verifier},
	}
	req, err = http.NewRequest("POST", a.Endpoints.SSO+"/oidc/endpoint/default/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header = loginFormHeaders()
	resp, err = client.Do(req)
	if err != nil {
		return nil, err
	}
	var ciToken tokenResponse
	err = decodeTokenResponse(resp, &ciToken)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]string{"ciToken": ciToken.AccessToken})
	req, err = http.NewRequest("POST", a.Endpoints.Guard+"/token/v2/cat-with-ci-access-token", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header = apiHeaders(a.Region)
	resp, err = a.Transport.Do(req)
	if err != nil {
		return nil, err
	}
	var primary tokenResponse
	if err := decodeTokenResponse(resp, &primary); err != nil {
		return nil, err
	}
	logTokenClaims("primary", primary.AccessToken)
	return &primary, nil
}

// parseAuthorizationRedirect extracts the code and grant id from the
// custom-scheme redirect the identity provider issues after a
// successful credential check.
func parseAuthorizationRedirect(location string) (code string, grantID string, err error) {
	if location == "" {
		return "", "", fmt.Errorf("%w: confirmation returned no redirect target", ErrAuthenticationFailed)
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("%w: unparseable redirect target", ErrAuthenticationFailed)
	}
	q := u.Query()
	code = q.Get("code")
	grantID = q.Get("grant_id")
	if code == "" || grantID == "" {
		return "", "", fmt.Errorf("%w: redirect target missing code or grant id", ErrAuthenticationFailed)
	}
	return code, grantID, nil
}

func decodeTokenResponse(resp *http.Response, out *tokenResponse) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token endpoint returned %d", ErrAuthenticationFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return fmt.Errorf("%w: token endpoint returned no access token", ErrAuthenticationFailed)
	}
	return nil
}

// refreshPrimaryLocked trades the stored refresh token for a new primary
// pair. A 401 surfaces as errRefreshUnauthorized so the caller can fall
// back to a full login. Callers must hold a.mu.
func (a *FordPassAPIImpl) refreshPrimaryLocked(creds *CredentialSet) error {
	payload, _ := json.Marshal(map[string]string{"refresh_token": creds.RefreshToken})
	req, err := http.NewRequest("POST", a.Endpoints.Guard+"/token/v2/cat-with-refresh-token", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header = apiHeaders(a.Region)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return errRefreshUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: refresh endpoint returned %d", ErrTokenRefreshFailed, resp.StatusCode)
	}
	var fresh tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&fresh); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	if fresh.AccessToken == "" {
		return fmt.Errorf("%w: refresh endpoint returned no access token", ErrTokenRefreshFailed)
	}
	creds.AccessToken = fresh.AccessToken
	creds.RefreshToken = fresh.RefreshToken
	creds.ExpiryDate = a.tokenExpiry(fresh.AccessToken, fresh.ExpiresIn)
	logTokenClaims("primary", fresh.AccessToken)
	return nil
}

// acquireAutonomicLocked exchanges the primary access token for the
// command-plane token pair and stores it on creds. Callers must hold
// a.mu.
func (a *FordPassAPIImpl) acquireAutonomicLocked(creds *CredentialSet) error {
	form := url.Values{
		"subject_token":        {creds.AccessToken},
		"subject_issuer":       {"fordpass"},
		"client_id":            {"fordpass-prod"},
		"grant_type":           {"urn:ietf:params:oauth:grant-type:token-exchange"},
		"subject_token_type":   {"urn:ietf:params:oauth:token-type:jwt"},
		"requested_token_type": {"urn:ietf:params:oauth:token-type:jwt"},
	}
	req, err := http.NewRequest("POST", a.Endpoints.AutonomicAccount+"/auth/oidc/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header = tokenExchangeHeaders()
	resp, err := a.Transport.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	var exchanged tokenResponse
	if err := decodeTokenResponse(resp, &exchanged); err != nil {
		return err
	}
	expiry := a.tokenExpiry(exchanged.AccessToken, exchanged.ExpiresIn)
	creds.SetAutonomic(exchanged.AccessToken, exchanged.RefreshToken, expiry)
	logTokenClaims("command", exchanged.AccessToken)
	return nil
}

func (a *FordPassAPIImpl) persistLocked() {
	if a.Store == nil || a.creds == nil {
		return
	}
	if err := a.Store.Save(a.creds); err != nil {
		log.Errorf("could not persist token state: %v", err)
	}
}

// tokenExpiry derives the expiry timestamp for a freshly issued token.
// The advertised expires_in is the baseline; when the token itself is a
// JWT carrying an earlier exp claim, the claim wins, so a token the
// backend cut short is never treated as live past its real lifetime.
func (a *FordPassAPIImpl) tokenExpiry(token string, expiresIn int64) float64 {
	expiry := a.Time.UTCNow().Add(time.Duration(expiresIn) * time.Second).Unix()
	if claimExp, ok := tokenClaimExpiry(token); ok && claimExp < expiry {
		expiry = claimExp
	}
	return float64(expiry)
}

// tokenClaimExpiry reads the exp claim without verifying the signature.
// Opaque tokens report no claim.
func tokenClaimExpiry(token string) (int64, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Unix(), true
}

// logTokenClaims peeks at the unverified claims of a freshly issued
// token for debug logging. The token is never trusted based on this.
func logTokenClaims(kind, token string) {
	if log.GetLevel() < log.DebugLevel {
		return
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}
	sub, _ := claims["sub"].(string)
	exp, _ := claims["exp"].(float64)
	log.Debugf("%s token issued for sub %s, exp %d", kind, sub, int64(exp))
}
