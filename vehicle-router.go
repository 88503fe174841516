package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type VehicleRouter struct {
}

type CommandResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type CommandLogResponse struct {
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	CommandID string `json:"commandId"`
	Result    string `json:"result"`
}

func (router *VehicleRouter) SetupRoutes(s *mux.Router) {
	s.HandleFunc("/status", router.getStatus).Methods("GET")
	s.HandleFunc("/messages", router.getMessages).Methods("GET")
	s.HandleFunc("/list", router.getVehicles).Methods("GET")
	s.HandleFunc("/refresh", router.requestUpdate).Methods("POST")
	s.HandleFunc("/command/{command}", router.executeCommand).Methods("POST")
	s.HandleFunc("/commandlog", router.getCommandLog).Methods("GET")
	s.HandleFunc("/guard", router.getGuardStatus).Methods("GET")
	s.HandleFunc("/guard", router.enableGuard).Methods("PUT")
	s.HandleFunc("/guard", router.disableGuard).Methods("DELETE")
	s.HandleFunc("/charge/logs", router.getEnergyTransferLogs).Methods("GET")
	s.HandleFunc("/charge/status", router.getEnergyTransferStatus).Methods("GET")
	s.HandleFunc("/charge/start", router.chargeStart).Methods("POST")
	s.HandleFunc("/charge/stop", router.chargeStop).Methods("POST")
	s.HandleFunc("/rcc", router.getRCCStatus).Methods("GET")
	s.HandleFunc("/rcc", router.updateRCC).Methods("PUT")
	s.HandleFunc("/lighting/{zone}", router.setZoneLighting).Methods("PUT", "DELETE")
}

// getStatus serves the cached snapshot when one is fresh, otherwise
// fetches live and fills the cache.
func (router *VehicleRouter) getStatus(w http.ResponseWriter, r *http.Request) {
	vin := GetConfig().VIN
	if cached := GetStatusCache().Get(vin); cached != nil {
		SendJSON(w, json.RawMessage(cached.Raw))
		return
	}
	status, err := GetFordAPI().Status()
	if err != nil {
		log.Errorf("could not fetch vehicle status: %v", err)
		SendInternalServerError(w)
		return
	}
	GetStatusCache().Set(vin, status)
	SendJSON(w, json.RawMessage(status.Raw))
}

func (router *VehicleRouter) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := GetFordAPI().Messages()
	if err != nil {
		log.Errorf("could not fetch messages: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, messages)
}

func (router *VehicleRouter) getVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := GetFordAPI().Vehicles()
	if err != nil {
		log.Errorf("could not fetch vehicle list: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, vehicles)
}

func (router *VehicleRouter) requestUpdate(w http.ResponseWriter, r *http.Request) {
	success, err := GetFordAPI().RequestUpdate(GetConfig().VIN)
	if err == nil && success {
		GetStatusCache().Invalidate(GetConfig().VIN)
	}
	sendCommandResult(w, success, err)
}

func (router *VehicleRouter) executeCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var success bool
	var err error
	switch vars["command"] {
	case "start":
		success, err = GetFordAPI().Start()
	case "stop":
		success, err = GetFordAPI().Stop()
	case "lock":
		success, err = GetFordAPI().Lock()
	case "unlock":
		success, err = GetFordAPI().Unlock()
	default:
		SendNotFound(w)
		return
	}
	if err == nil && success {
		GetStatusCache().Invalidate(GetConfig().VIN)
	}
	sendCommandResult(w, success, err)
}

func (router *VehicleRouter) getCommandLog(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.Atoi(r.URL.Query().Get("num"))
	if err != nil || num <= 0 {
		num = 20
	}
	events := GetDB().GetLatestCommandEvents(GetConfig().VIN, num)
	res := []CommandLogResponse{}
	for _, event := range events {
		res = append(res, CommandLogResponse{
			Timestamp: event.Timestamp.Format("2006-01-02 15:04:05"),
			Command:   event.Command,
			CommandID: event.CommandID,
			Result:    event.Result,
		})
	}
	SendJSON(w, res)
}

func (router *VehicleRouter) getGuardStatus(w http.ResponseWriter, r *http.Request) {
	status, err := GetFordAPI().GuardStatus()
	if err != nil {
		log.Errorf("could not fetch guard status: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, status)
}

func (router *VehicleRouter) enableGuard(w http.ResponseWriter, r *http.Request) {
	if err := GetFordAPI().EnableGuard(); err != nil {
		log.Errorf("could not enable guard mode: %v", err)
		SendInternalServerError(w)
		return
	}
	SendUpdated(w)
}

func (router *VehicleRouter) disableGuard(w http.ResponseWriter, r *http.Request) {
	if err := GetFordAPI().DisableGuard(); err != nil {
		log.Errorf("could not disable guard mode: %v", err)
		SendInternalServerError(w)
		return
	}
	SendUpdated(w)
}

func (router *VehicleRouter) getEnergyTransferLogs(w http.ResponseWriter, r *http.Request) {
	maxRecords, _ := strconv.Atoi(r.URL.Query().Get("maxRecords"))
	logs, err := GetFordAPI().EnergyTransferLogs(maxRecords)
	if err != nil {
		log.Errorf("could not fetch energy transfer logs: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, logs)
}

func (router *VehicleRouter) getEnergyTransferStatus(w http.ResponseWriter, r *http.Request) {
	status, err := GetFordAPI().EnergyTransferStatus()
	if err != nil {
		log.Errorf("could not fetch energy transfer status: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, status)
}

func (router *VehicleRouter) chargeStart(w http.ResponseWriter, r *http.Request) {
	success, err := GetFordAPI().ChargeStart()
	sendCommandResult(w, success, err)
}

func (router *VehicleRouter) chargeStop(w http.ResponseWriter, r *http.Request) {
	success, err := GetFordAPI().ChargeStop()
	sendCommandResult(w, success, err)
}

func (router *VehicleRouter) getRCCStatus(w http.ResponseWriter, r *http.Request) {
	status, err := GetFordAPI().RCCStatus(GetConfig().VIN)
	if err != nil {
		log.Errorf("could not fetch rcc profile: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, status)
}

func (router *VehicleRouter) updateRCC(w http.ResponseWriter, r *http.Request) {
	var req RCCUpdateRequest
	if err := UnmarshalValidateBody(r, &req); err != nil {
		SendBadRequest(w)
		return
	}
	success, err := GetFordAPI().UpdateRCC(&req)
	sendCommandResult(w, success, err)
}

func (router *VehicleRouter) setZoneLighting(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	zone := vars["zone"]
	on := r.Method == "PUT"
	var res json.RawMessage
	var err error
	if zone == "activation" {
		res, err = GetFordAPI().ZoneLightingActivation(on)
	} else {
		res, err = GetFordAPI().ZoneLightingZone(zone, on)
	}
	if errors.Is(err, ErrInvalidZone) {
		SendBadRequest(w)
		return
	}
	if err != nil {
		log.Errorf("could not change zone lighting: %v", err)
		SendInternalServerError(w)
		return
	}
	SendJSON(w, res)
}

func sendCommandResult(w http.ResponseWriter, success bool, err error) {
	if err != nil {
		log.Errorf("command failed: %v", err)
		SendJSON(w, CommandResponse{Success: false, Error: err.Error()})
		return
	}
	SendJSON(w, CommandResponse{Success: success})
}
