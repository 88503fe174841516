package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	log "github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 30 * time.Second

// Transport is an explicitly owned HTTP client with bounded retry on
// transient connection failures. One instance per API session, no
// process-wide shared state.
type Transport struct {
	retryClient *retry.Client
	base        *http.Client
	timeout     time.Duration
}

func NewTransport(timeout time.Duration) *Transport {
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	baseClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}
	retryClient, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(baseClient),
	)
	if err != nil {
		log.Panicf("failed to create retry client: %v", err)
	}
	return &Transport{
		retryClient: retryClient,
		base:        baseClient,
		timeout:     timeout,
	}
}

// Do issues the request. The per-request timeout is enforced by the
// owned client; connection-level failures are retried by the underlying
// retry client before surfacing.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	return t.retryClient.DoWithContext(req.Context(), req)
}

// DoWithContext issues the request under the caller's context.
func (t *Transport) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.retryClient.DoWithContext(ctx, req)
}

// DoOnce issues the request without retry. Required for endpoints that
// encode a pending state in a 5xx status code, which the retry client
// would otherwise treat as a transient failure.
func (t *Transport) DoOnce(req *http.Request) (*http.Response, error) {
	return t.base.Do(req)
}
