package main

import "net/http"

const fordUserAgent = "FordPass/23 CFNetwork/1408.0.4 Darwin/22.5.0"
const loginUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"

// Each endpoint family expects a slightly different header set. These
// builders make the exact required set per (region, token kind) explicit
// instead of merging header maps ad hoc.

func defaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-us")
	h.Set("User-Agent", fordUserAgent)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	return h
}

func loginFormHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("User-Agent", loginUserAgent)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return h
}

func apiHeaders(region Region) http.Header {
	h := defaultHeaders()
	h.Set("Content-Type", "application/json")
	h.Set("Application-Id", region.ApplicationID)
	return h
}

// authTokenHeaders authorizes against the legacy account domain, which
// expects the primary token in an Auth-Token header.
func authTokenHeaders(region Region, token string) http.Header {
	h := apiHeaders(region)
	h.Set("Auth-Token", token)
	return h
}

// bearerHeaders authorizes against the device-identity domain, which
// expects the autonomic token as a bearer credential.
func bearerHeaders(region Region, token string) http.Header {
	h := apiHeaders(region)
	h.Set("Authorization", "Bearer "+token)
	return h
}

// dashboardHeaders is the vehicle-list variant of authTokenHeaders; the
// dashboard endpoint additionally requires the market identifiers.
func dashboardHeaders(region Region, token string) http.Header {
	h := authTokenHeaders(region, token)
	h.Set("Countrycode", region.CountryCode)
	h.Set("Locale", "EN-US")
	return h
}

func tokenExchangeHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return h
}
