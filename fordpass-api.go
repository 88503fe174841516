package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrAuthenticationFailed = errors.New("authentication failed")
var ErrCommandSubmissionFailed = errors.New("command submission failed")
var ErrCommandTimedOut = errors.New("command timed out")
var ErrCommandExpired = errors.New("command expired")
var ErrInvalidZone = errors.New("invalid lighting zone")

// ZoneLightingZones maps the supported zone names to their vehicle-side
// identifiers. Unknown zones are rejected before any network call.
var ZoneLightingZones = map[string]int{
	"Front":     1,
	"Rear":      2,
	"Driver":    3,
	"Passenger": 4,
	"All":       0,
}

type Message struct {
	MessageID   int    `json:"messageId"`
	MessageType string `json:"messageType"`
	Subject     string `json:"messageSubject"`
	CreatedDate string `json:"createdDate"`
	IsRead      bool   `json:"isRead"`
	RelevantVIN string `json:"relevantVin"`
}

// CommandState is the last observed transition for one command family in
// the telemetry snapshot.
type CommandState struct {
	CommandID string            `json:"commandId"`
	Value     CommandStateValue `json:"value"`
}

type CommandStateValue struct {
	ToState string `json:"toState"`
}

type Metric struct {
	Value json.RawMessage `json:"value"`
}

func (m Metric) Float64() (float64, bool) {
	var f float64
	if err := json.Unmarshal(m.Value, &f); err != nil {
		return 0, false
	}
	return f, true
}

func (m Metric) StringValue() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// VehicleStatus is the server-defined status snapshot. Only the states
// and metrics maps are contracted on; everything else stays in Raw as an
// opaque passthrough for downstream consumers.
type VehicleStatus struct {
	States  map[string]CommandState `json:"states"`
	Metrics map[string]Metric       `json:"metrics"`
	Raw     json.RawMessage         `json:"-"`
}

type RCCUpdateRequest struct {
	VIN     string `json:"vin,omitempty"`
	HVAC    int    `json:"hvac" validate:"required,min=16,max=30"`
	Seats   string `json:"seats" validate:"required,oneof=Heated2 Cooled2 Off"`
	Defrost string `json:"defrost" validate:"required,oneof=On Off"`
}

type FordPassAPI interface {
	Login() error
	Logout() error
	EnsureValidTokens() (*CredentialSet, error)
	Status() (*VehicleStatus, error)
	Messages() ([]Message, error)
	Vehicles() (json.RawMessage, error)
	GuardStatus() (json.RawMessage, error)
	EnableGuard() error
	DisableGuard() error
	Start() (bool, error)
	Stop() (bool, error)
	Lock() (bool, error)
	Unlock() (bool, error)
	RequestUpdate(vin string) (bool, error)
	ChargeStart() (bool, error)
	ChargeStop() (bool, error)
	EnergyTransferLogs(maxRecords int) (json.RawMessage, error)
	EnergyTransferStatus() (json.RawMessage, error)
	RCCStatus(vin string) (json.RawMessage, error)
	UpdateRCC(req *RCCUpdateRequest) (bool, error)
	ZoneLightingActivation(on bool) (json.RawMessage, error)
	ZoneLightingZone(zone string, on bool) (json.RawMessage, error)
}

var FordAPIInstance FordPassAPI

func GetFordAPI() FordPassAPI {
	return FordAPIInstance
}

// Endpoints holds the per-deployment service roots. Tests point these at
// a fake backend.
type Endpoints struct {
	Base             string
	Guard            string
	Features         string
	SSO              string
	Autonomic        string
	AutonomicAccount string
}

func DefaultEndpoints() Endpoints {
	cfg := GetConfig()
	return Endpoints{
		Base:             cfg.BaseURL,
		Guard:            cfg.GuardURL,
		Features:         cfg.FeaturesURL,
		SSO:              cfg.SSOURL,
		Autonomic:        cfg.AutonomicURL,
		AutonomicAccount: cfg.AutonomicAccountURL,
	}
}

type FordPassAPIImpl struct {
	Username        string
	Password        string
	VIN             string
	Region          Region
	Endpoints       Endpoints
	Transport       *Transport
	Store           TokenStore
	Time            Time
	UseTelemetryAPI bool

	PollAttempts        int
	PollInterval        time.Duration
	PendingPollAttempts int
	PendingPollInterval time.Duration

	mu    sync.Mutex
	creds *CredentialSet
}

func NewFordPassAPI() *FordPassAPIImpl {
	cfg := GetConfig()
	return &FordPassAPIImpl{
		Username:            cfg.Username,
		Password:            cfg.Password,
		VIN:                 cfg.VIN,
		Region:              cfg.GetRegion(),
		Endpoints:           DefaultEndpoints(),
		Transport:           NewTransport(0),
		Store:               NewTokenStoreFromConfig(),
		Time:                new(RealTime),
		UseTelemetryAPI:     cfg.UseTelemetryAPI,
		PollAttempts:        14,
		PollInterval:        10 * time.Second,
		PendingPollAttempts: 60,
		PendingPollInterval: 5 * time.Second,
	}
}

// getWithReauth issues the request built by build and, on a 401,
// re-authenticates once and retries exactly once.
func (a *FordPassAPIImpl) getWithReauth(build func(creds *CredentialSet) (*http.Request, error)) (*http.Response, error) {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return nil, err
	}
	req, err := build(creds)
	if err != nil {
		return nil, err
	}
	resp, err := a.Transport.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()
	log.Debugln("401 response, re-authenticating once")
	if err := a.Login(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	creds = a.credsSnapshotLocked()
	a.mu.Unlock()
	req, err = build(creds)
	if err != nil {
		return nil, err
	}
	return a.Transport.Do(req)
}

// Status fetches the current vehicle snapshot. The telemetry variant
// parses the states/metrics maps; the legacy variant returns the wrapped
// vehiclestatus document as an opaque blob.
func (a *FordPassAPIImpl) Status() (*VehicleStatus, error) {
	if a.UseTelemetryAPI {
		return a.telemetryStatus(a.VIN)
	}
	return a.legacyStatus()
}

func (a *FordPassAPIImpl) telemetryStatus(vin string) (*VehicleStatus, error) {
	resp, err := a.getWithReauth(func(creds *CredentialSet) (*http.Request, error) {
		req, err := http.NewRequest("GET", a.Endpoints.Autonomic+"/telemetry/sources/fordpass/vehicles/"+vin, nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = "lrdt=01-01-1970+00%3A00%3A00"
		req.Header = bearerHeaders(a.Region, creds.AutoToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching telemetry", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	status := &VehicleStatus{}
	if err := json.Unmarshal(body, status); err != nil {
		return nil, err
	}
	status.Raw = body
	return status, nil
}

func (a *FordPassAPIImpl) legacyStatus() (*VehicleStatus, error) {
	resp, err := a.getWithReauth(func(creds *CredentialSet) (*http.Request, error) {
		req, err := http.NewRequest("GET", a.Endpoints.Base+"/vehicles/v5/"+a.VIN+"/status", nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = "lrdt=01-01-1970+00%3A00%3A00"
		req.Header = authTokenHeaders(a.Region, creds.AccessToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching vehicle status", resp.StatusCode)
	}
	var wrapped struct {
		Status        int             `json:"status"`
		VehicleStatus json.RawMessage `json:"vehiclestatus"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Status == 402 {
		return nil, fmt.Errorf("vehicle status unavailable (status %d)", wrapped.Status)
	}
	return &VehicleStatus{Raw: wrapped.VehicleStatus}, nil
}

func (a *FordPassAPIImpl) Messages() ([]Message, error) {
	resp, err := a.getWithReauth(func(creds *CredentialSet) (*http.Request, error) {
		req, err := http.NewRequest("GET", a.Endpoints.Guard+"/messagecenter/v3/messages", nil)
		if err != nil {
			return nil, err
		}
		req.Header = authTokenHeaders(a.Region, creds.AccessToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching messages", resp.StatusCode)
	}
	var m struct {
		Result struct {
			Messages []Message `json:"messages"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return m.Result.Messages, nil
}

// Vehicles returns the account's dashboard document. The endpoint
// answers with a 207 multi-status carrying per-vehicle sections; the
// body is passed through untyped.
func (a *FordPassAPIImpl) Vehicles() (json.RawMessage, error) {
	resp, err := a.getWithReauth(func(creds *CredentialSet) (*http.Request, error) {
		payload, _ := json.Marshal(map[string]string{"dashboardRefreshRequest": "All"})
		req, err := http.NewRequest("POST", a.Endpoints.Guard+"/expdashboard/v1/details/", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header = dashboardHeaders(a.Region, creds.AccessToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("unexpected status %d fetching vehicle list", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (a *FordPassAPIImpl) GuardStatus() (json.RawMessage, error) {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("GET", a.Endpoints.Guard+"/guardmode/v1/"+a.VIN+"/session", nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = "lrdt=01-01-1970+00%3A00%3A00"
	req.Header = authTokenHeaders(a.Region, creds.AccessToken)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *FordPassAPIImpl) EnableGuard() error {
	return a.guardCommand("PUT")
}

func (a *FordPassAPIImpl) DisableGuard() error {
	return a.guardCommand("DELETE")
}

func (a *FordPassAPIImpl) guardCommand(method string) error {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, a.Endpoints.Guard+"/guardmode/v1/"+a.VIN+"/session", nil)
	if err != nil {
		return err
	}
	req.Header = authTokenHeaders(a.Region, creds.AccessToken)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d on guard mode change", resp.StatusCode)
	}
	return nil
}

func (a *FordPassAPIImpl) Start() (bool, error) {
	return a.ExecuteCommand(CommandRemoteStart, "")
}

func (a *FordPassAPIImpl) Stop() (bool, error) {
	return a.ExecuteCommand(CommandCancelRemoteStart, "")
}

func (a *FordPassAPIImpl) Lock() (bool, error) {
	return a.ExecuteCommand(CommandLock, "")
}

func (a *FordPassAPIImpl) Unlock() (bool, error) {
	return a.ExecuteCommand(CommandUnlock, "")
}

func (a *FordPassAPIImpl) RequestUpdate(vin string) (bool, error) {
	return a.ExecuteCommand(CommandStatusRefresh, vin)
}

func (a *FordPassAPIImpl) ChargeStart() (bool, error) {
	return a.electrificationCommand("CANCEL")
}

func (a *FordPassAPIImpl) ChargeStop() (bool, error) {
	return a.electrificationCommand("PAUSE")
}

// electrificationCommand drives the global charge pause/cancel switch.
// The endpoint acknowledges with a 202 and a correlation id; there is no
// completion feed to poll.
func (a *FordPassAPIImpl) electrificationCommand(command string) (bool, error) {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return false, err
	}
	req, err := http.NewRequest("POST", a.Endpoints.Guard+"/electrification/experiences/v1/vehicles/"+a.VIN+"/global-charge-command/"+command, nil)
	if err != nil {
		return false, err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		log.Debugf("charge command %s rejected with status %d", command, resp.StatusCode)
		return false, nil
	}
	var m struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return false, err
	}
	return m.CorrelationID != "", nil
}

func (a *FordPassAPIImpl) EnergyTransferLogs(maxRecords int) (json.RawMessage, error) {
	if maxRecords <= 0 {
		maxRecords = 20
	}
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/electrification/experiences/v1/devices/%s/energy-transfer-logs?maxRecords=%d",
		a.Endpoints.Guard, a.VIN, maxRecords)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	return a.rawJSONResponse(req)
}

func (a *FordPassAPIImpl) EnergyTransferStatus() (json.RawMessage, error) {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("GET", a.Endpoints.Guard+"/electrification/experiences/v1/vehicles/"+a.VIN+"/energy-transfer-status", nil)
	if err != nil {
		return nil, err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	return a.rawJSONResponse(req)
}

func (a *FordPassAPIImpl) RCCStatus(vin string) (json.RawMessage, error) {
	if vin == "" {
		vin = a.VIN
	}
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]string{"vin": vin})
	req, err := http.NewRequest("POST", a.Endpoints.Guard+"/rcc/profile/status", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	return a.rawJSONResponse(req)
}

// UpdateRCC pushes a climate/seat/defrost profile. Inputs are validated
// before any network call is made.
func (a *FordPassAPIImpl) UpdateRCC(rcc *RCCUpdateRequest) (bool, error) {
	if rcc.HVAC < 16 || rcc.HVAC > 30 {
		return false, fmt.Errorf("hvac setpoint must be between 16 and 30")
	}
	if rcc.Seats != "Heated2" && rcc.Seats != "Cooled2" && rcc.Seats != "Off" {
		return false, fmt.Errorf("seats mode must be one of Heated2, Cooled2, Off")
	}
	if rcc.Defrost != "On" && rcc.Defrost != "Off" {
		return false, fmt.Errorf("defrost mode must be On or Off")
	}
	vin := rcc.VIN
	if vin == "" {
		vin = a.VIN
	}
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return false, err
	}
	pref := func(prefType, value string) map[string]string {
		return map[string]string{"preferenceType": prefType, "preferenceValue": value}
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"crccStateFlag": "On",
		"userPreferences": []map[string]string{
			pref("RccHeatedWindshield_Rq", rcc.Defrost),
			pref("RccRearDefrost_Rq", rcc.Defrost),
			pref("RccHeatedSteeringWheel_Rq", rcc.Defrost),
			pref("RccLeftFrontClimateSeat_Rq", rcc.Seats),
			pref("RccLeftRearClimateSeat_Rq", rcc.Seats),
			pref("RccRightFrontClimateSeat_Rq", rcc.Seats),
			pref("RccRightRearClimateSeat_Rq", rcc.Seats),
			pref("SetPointTemp_Rq", fmt.Sprintf("%d_0", rcc.HVAC)),
		},
		"vin": vin,
	})
	req, err := http.NewRequest("PUT", a.Endpoints.Guard+"/rcc/profile/update", bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	resp, err := a.Transport.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debugf("rcc update rejected with status %d", resp.StatusCode)
		return false, nil
	}
	return true, nil
}

func (a *FordPassAPIImpl) ZoneLightingActivation(on bool) (json.RawMessage, error) {
	method := "PUT"
	if !on {
		method = "DELETE"
	}
	return a.zoneLightingRequest(method, a.Endpoints.Features+"/vehicles/vpfi/zonelightingactivation")
}

func (a *FordPassAPIImpl) ZoneLightingZone(zone string, on bool) (json.RawMessage, error) {
	if _, ok := ZoneLightingZones[zone]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidZone, zone)
	}
	method := "PUT"
	if !on {
		method = "DELETE"
	}
	return a.zoneLightingRequest(method, a.Endpoints.Features+"/vehicles/vpfi/"+zone+"/zonelightingzone")
}

func (a *FordPassAPIImpl) zoneLightingRequest(method, url string) (json.RawMessage, error) {
	creds, err := a.EnsureValidTokens()
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]string{"vin": a.VIN})
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header = bearerHeaders(a.Region, creds.AutoToken)
	return a.rawJSONResponse(req)
}

func (a *FordPassAPIImpl) rawJSONResponse(req *http.Request) (json.RawMessage, error) {
	resp, err := a.Transport.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, req.URL.Path)
	}
	return io.ReadAll(resp.Body)
}
