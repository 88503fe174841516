package main

import (
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type AuthRouter struct {
}

type AuthStateResponse struct {
	Authenticated bool `json:"authenticated"`
}

func (router *AuthRouter) SetupRoutes(s *mux.Router) {
	s.HandleFunc("/login", router.login).Methods("POST")
	s.HandleFunc("/logout", router.logout).Methods("POST")
	s.HandleFunc("/state", router.getState).Methods("GET")
}

func (router *AuthRouter) login(w http.ResponseWriter, r *http.Request) {
	if err := GetFordAPI().Login(); err != nil {
		log.Errorf("login failed: %v", err)
		SendInternalServerError(w)
		return
	}
	SendUpdated(w)
}

func (router *AuthRouter) logout(w http.ResponseWriter, r *http.Request) {
	if err := GetFordAPI().Logout(); err != nil {
		log.Errorf("logout failed: %v", err)
		SendInternalServerError(w)
		return
	}
	SendUpdated(w)
}

func (router *AuthRouter) getState(w http.ResponseWriter, r *http.Request) {
	_, err := GetFordAPI().EnsureValidTokens()
	SendJSON(w, AuthStateResponse{Authenticated: err == nil})
}
