package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const (
	CommandRemoteStart       = "remoteStart"
	CommandCancelRemoteStart = "cancelRemoteStart"
	CommandLock              = "lock"
	CommandUnlock            = "unlock"
	CommandStatusRefresh     = "statusRefresh"
)

// legacyCommandRoutes maps commands that still have a region-scoped
// endpoint to their method and path. Used when the telemetry API is
// disabled.
var legacyCommandRoutes = map[string]struct {
	Method string
	Path   string
}{
	CommandRemoteStart:       {"PUT", "/vehicles/v5/%s/engine/start"},
	CommandCancelRemoteStart: {"DELETE", "/vehicles/v5/%s/engine/start"},
	CommandLock:              {"PUT", "/vehicles/v2/%s/doors/lock"},
	CommandUnlock:            {"DELETE", "/vehicles/v2/%s/doors/lock"},
}

// ExecuteCommand submits a vehicle command and polls the status feed
// until the transition resolves. Returns (true, nil) on success,
// (false, ErrCommandExpired) when the vehicle rejects the transition,
// and (false, ErrCommandTimedOut) when the poll budget runs out.
func (a *FordPassAPIImpl) ExecuteCommand(command, vin string) (bool, error) {
	if vin == "" {
		vin = a.VIN
	}
	if !a.UseTelemetryAPI {
		if route, ok := legacyCommandRoutes[command]; ok {
			return a.executeLegacyCommand(command, vin, route.Method, fmt.Sprintf(route.Path, vin))
		}
	}
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return false, err
	}
	commandID, err := a.submitCommand(creds, command, vin)
	if err != nil {
		return false, err
	}
	GetDB().LogCommandEvent(vin, command, commandID, CommandResultSubmitted)
	return a.pollCommand(command, vin, commandID)
}

func (a *FordPassAPIImpl) submitCommand(creds *CredentialSet, command, vin string) (string, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"properties": map[string]interface{}{},
		"tags":       map[string]interface{}{},
		"type":       command,
		"wakeUp":     true,
	})
	req, err := http.NewRequest("POST", a.Endpoints.Autonomic+"/command/vehicles/"+vin+"/commands", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCommandSubmissionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: endpoint returned %d for %s", ErrCommandSubmissionFailed, resp.StatusCode, command)
	}
	var m struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCommandSubmissionFailed, err)
	}
	if m.ID == "" {
		return "", fmt.Errorf("%w: endpoint returned no command id", ErrCommandSubmissionFailed)
	}
	return m.ID, nil
}

// pollCommand watches the status feed for the submitted command id to
// reach a terminal state. Each attempt is a live status fetch; the
// transition for a command appears under the "<command>Command" key.
func (a *FordPassAPIImpl) pollCommand(command, vin, commandID string) (bool, error) {
	stateKey := command + "Command"
	for i := 1; i <= a.PollAttempts; i++ {
		// poll the vehicle the command went to, not the session default
		status, err := a.telemetryStatus(vin)
		if err != nil {
			log.Warnf("status fetch failed while awaiting %s: %v", command, err)
		} else if state, ok := status.States[stateKey]; ok && state.CommandID == commandID {
			switch state.Value.ToState {
			case "success":
				log.Debugf("%s confirmed after %d status checks", command, i)
				GetDB().LogCommandEvent(vin, command, commandID, CommandResultSuccess)
				return true, nil
			case "expired":
				GetDB().LogCommandEvent(vin, command, commandID, CommandResultExpired)
				return false, fmt.Errorf("%w: %s", ErrCommandExpired, command)
			}
		}
		if i < a.PollAttempts {
			a.Time.Sleep(a.PollInterval)
		}
	}
	GetDB().LogCommandEvent(vin, command, commandID, CommandResultTimeout)
	return false, fmt.Errorf("%w: %s not confirmed after %d checks", ErrCommandTimedOut, command, a.PollAttempts)
}

// executeLegacyCommand drives the older region-scoped command shape:
// the initial request returns a command id, and a dedicated per-command
// poll URL answers HTTP 200 with a body whose status field reads 552
// while pending and 200 when done.
func (a *FordPassAPIImpl) executeLegacyCommand(command, vin, method, path string) (bool, error) {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return false, err
	}
	req, err := http.NewRequest(method, a.Endpoints.Base+path, nil)
	if err != nil {
		return false, err
	}
	req.Header = authTokenHeaders(a.Region, creds.AccessToken)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCommandSubmissionFailed, err)
	}
	var m struct {
		CommandID string `json:"commandId"`
	}
	func() {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			json.NewDecoder(resp.Body).Decode(&m)
		}
	}()
	if resp.StatusCode != http.StatusOK || m.CommandID == "" {
		return false, fmt.Errorf("%w: endpoint returned %d for %s", ErrCommandSubmissionFailed, resp.StatusCode, command)
	}
	GetDB().LogCommandEvent(vin, command, m.CommandID, CommandResultSubmitted)

	pollURL := a.Endpoints.Base + path + "/" + m.CommandID
	for i := 1; i <= a.PendingPollAttempts; i++ {
		req, err := http.NewRequest("GET", pollURL, nil)
		if err != nil {
			return false, err
		}
		req.Header = authTokenHeaders(a.Region, creds.AccessToken)
		resp, err := a.Transport.DoOnce(req)
		if err != nil {
			return false, err
		}
		var poll struct {
			Status int `json:"status"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&poll)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			GetDB().LogCommandEvent(vin, command, m.CommandID, CommandResultFailed)
			return false, fmt.Errorf("%w: poll endpoint returned %d for %s", ErrCommandSubmissionFailed, resp.StatusCode, command)
		}
		switch poll.Status {
		case http.StatusOK:
			GetDB().LogCommandEvent(vin, command, m.CommandID, CommandResultSuccess)
			return true, nil
		case 552:
			// still pending
		default:
			GetDB().LogCommandEvent(vin, command, m.CommandID, CommandResultFailed)
			return false, fmt.Errorf("%w: poll reported status %d for %s", ErrCommandSubmissionFailed, poll.Status, command)
		}
		if i < a.PendingPollAttempts {
			a.Time.Sleep(a.PendingPollInterval)
		}
	}
	GetDB().LogCommandEvent(vin, command, m.CommandID, CommandResultTimeout)
	return false, fmt.Errorf("%w: %s still pending after %d checks", ErrCommandTimedOut, command, a.PendingPollAttempts)
}
