package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"time"
)

// fakeFord emulates the cloud backend: the sign-in flow, both token
// endpoints, the token exchange, the telemetry feed and the command
// endpoint. Tests tweak the exported fields to script failures.
type fakeFord struct {
	Server *httptest.Server

	mu   sync.Mutex
	hits map[string]int

	RefreshStatus         int
	CommandStatus         int
	CommandID             string
	TokenTTL              int
	StatusBodies          []string
	RejectPassword        bool
	TelemetryUnauthorized int
	LegacyPendingPolls    int
	LegacyPollReject      int

	telemetryVINs []string
}

func newFakeFord() *fakeFord {
	f := &fakeFord{
		hits:          make(map[string]int),
		RefreshStatus: http.StatusOK,
		CommandStatus: http.StatusCreated,
		CommandID:     "cmd-0001",
		TokenTTL:      300,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/endpoint/default/authorize", f.handleAuthorize)
	mux.HandleFunc("/authsvc/login", f.handleLogin)
	mux.HandleFunc("/authsvc/confirm", f.handleConfirm)
	mux.HandleFunc("/oidc/endpoint/default/token", f.handleOIDCToken)
	mux.HandleFunc("/api/token/v2/cat-with-ci-access-token", f.handleCATLogin)
	mux.HandleFunc("/api/token/v2/cat-with-refresh-token", f.handleCATRefresh)
	mux.HandleFunc("/v1/auth/oidc/token", f.handleExchange)
	mux.HandleFunc("/v1/telemetry/sources/fordpass/vehicles/", f.handleTelemetry)
	mux.HandleFunc("/v1/command/vehicles/", f.handleCommand)
	mux.HandleFunc("/api/vehicles/", f.handleLegacy)
	f.Server = httptest.NewServer(mux)
	return f
}

func (f *fakeFord) Close() {
	f.Server.Close()
}

func (f *fakeFord) Endpoints() Endpoints {
	return Endpoints{
		Base:             f.Server.URL + "/api",
		Guard:            f.Server.URL + "/api",
		Features:         f.Server.URL,
		SSO:              f.Server.URL,
		Autonomic:        f.Server.URL + "/v1",
		AutonomicAccount: f.Server.URL + "/v1",
	}
}

func (f *fakeFord) Hits(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[name]
}

// LastTelemetryVIN reports the VIN of the most recent telemetry fetch.
func (f *fakeFord) LastTelemetryVIN() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.telemetryVINs) == 0 {
		return ""
	}
	return f.telemetryVINs[len(f.telemetryVINs)-1]
}

func (f *fakeFord) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[name]++
	return f.hits[name]
}

func (f *fakeFord) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	f.count("authorize")
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(`<html><body><div data-ibm-login-url="/authsvc/login?PolicyId=policy&amp;sid=42"></div></body></html>`))
}

func (f *fakeFord) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.count("login")
	r.ParseForm()
	if f.RejectPassword || r.PostFormValue("operation") != "verify" || r.PostFormValue("password") == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Location", "/authsvc/confirm")
	w.WriteHeader(http.StatusFound)
}

func (f *fakeFord) handleConfirm(w http.ResponseWriter, r *http.Request) {
	f.count("confirm")
	w.Header().Set("Location", "fordapp://userauthorized/?code=auth-code&grant_id=grant-42")
	w.WriteHeader(http.StatusFound)
}

func (f *fakeFord) handleOIDCToken(w http.ResponseWriter, r *http.Request) {
	f.count("oidcToken")
	r.ParseForm()
	if r.PostFormValue("code") != "auth-code" || r.PostFormValue("grant_id") != "grant-42" || r.PostFormValue("code_verifier") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "ci-token",
		"expires_in":   300,
	})
}

func (f *fakeFord) handleCATLogin(w http.ResponseWriter, r *http.Request) {
	n := f.count("catLogin")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  fmt.Sprintf("primary-token-%d", n),
		"refresh_token": fmt.Sprintf("primary-refresh-%d", n),
		"expires_in":    f.TokenTTL,
	})
}

func (f *fakeFord) handleCATRefresh(w http.ResponseWriter, r *http.Request) {
	n := f.count("catRefresh")
	if f.RefreshStatus != http.StatusOK {
		w.WriteHeader(f.RefreshStatus)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  fmt.Sprintf("refreshed-token-%d", n),
		"refresh_token": fmt.Sprintf("refreshed-refresh-%d", n),
		"expires_in":    f.TokenTTL,
	})
}

func (f *fakeFord) handleExchange(w http.ResponseWriter, r *http.Request) {
	n := f.count("exchange")
	r.ParseForm()
	if r.PostFormValue("subject_issuer") != "fordpass" || r.PostFormValue("subject_token") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  fmt.Sprintf("auto-token-%d", n),
		"refresh_token": fmt.Sprintf("auto-refresh-%d", n),
		"expires_in":    f.TokenTTL,
	})
}

func (f *fakeFord) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	n := f.count("telemetry")
	vin := path.Base(strings.TrimSuffix(r.URL.Path, "/"))
	f.mu.Lock()
	f.telemetryVINs = append(f.telemetryVINs, vin)
	f.mu.Unlock()
	if n <= f.TelemetryUnauthorized {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body := `{"states":{},"metrics":{}}`
	if len(f.StatusBodies) > 0 {
		idx := n - 1
		if idx >= len(f.StatusBodies) {
			idx = len(f.StatusBodies) - 1
		}
		body = f.StatusBodies[idx]
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func (f *fakeFord) handleCommand(w http.ResponseWriter, r *http.Request) {
	f.count("command")
	if !strings.HasSuffix(r.URL.Path, "/commands") || r.Method != "POST" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if f.CommandStatus != http.StatusCreated {
		w.WriteHeader(f.CommandStatus)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": f.CommandID})
}

// handleLegacy serves the region-scoped shapes: the status document,
// the command endpoints returning a commandId, and the per-command poll
// URL that answers 552 while pending.
func (f *fakeFord) handleLegacy(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/status"):
		f.count("legacyStatus")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":200,"vehiclestatus":{"odometer":{"value":12345}}}`))
	case strings.HasSuffix(r.URL.Path, "/doors/lock") || strings.HasSuffix(r.URL.Path, "/engine/start"):
		f.count("legacyCommand")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"commandId": f.CommandID})
	case strings.Contains(r.URL.Path, "/doors/lock/") || strings.Contains(r.URL.Path, "/engine/start/"):
		n := f.count("legacyPoll")
		w.Header().Set("Content-Type", "application/json")
		if f.LegacyPollReject != 0 {
			json.NewEncoder(w).Encode(map[string]int{"status": f.LegacyPollReject})
			return
		}
		if n <= f.LegacyPendingPolls {
			json.NewEncoder(w).Encode(map[string]int{"status": 552})
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"status": 200})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// commandStateBody renders a telemetry snapshot whose states map holds
// one entry for the given command.
func commandStateBody(command, commandID, toState string) string {
	return fmt.Sprintf(`{"states":{"%sCommand":{"commandId":"%s","value":{"toState":"%s"}}},"metrics":{}}`,
		command, commandID, toState)
}

func newTestAPI(f *fakeFord) *FordPassAPIImpl {
	return &FordPassAPIImpl{
		Username:        "test@example.com",
		Password:        "secret",
		VIN:             "1FTEST00000000001",
		Region:          Regions["USA"],
		Endpoints:       f.Endpoints(),
		Transport:       NewTransport(0),
		Time:            GlobalMockTime,
		UseTelemetryAPI: true,
		PollAttempts:    14,
		PollInterval:    time.Second,

		PendingPollAttempts: 5,
		PendingPollInterval: time.Second,
	}
}
