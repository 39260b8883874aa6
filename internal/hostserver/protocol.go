// SPDX-License-Identifier: MPL-2.0

package hostserver

import (
	"github.com/modhost/modhost/internal/host"
)

const (
	// EnvAddr holds the server URL for clients.
	EnvAddr = "MODHOST_ADDR"
	// EnvToken holds the bearer token for clients.
	EnvToken = "MODHOST_TOKEN"

	// PathLoader accepts a host.LoaderRequest and answers with a
	// host.LoaderResponse.
	PathLoader = "/v1/loader"
	// PathSessions lists pending sessions.
	PathSessions = "/v1/sessions"
	// PathUpdate queues a maintenance update.
	PathUpdate = "/v1/update"
	// PathEvents is the websocket event stream.
	PathEvents = "/v1/events"
	// PathHealth answers "ok" while the server runs.
	PathHealth = "/health"
	// PathMetrics serves Prometheus metrics.
	PathMetrics = "/metrics"
)

type (
	// ErrorResponse is the body of every non-2xx answer.
	ErrorResponse struct {
		Error string `json:"error"`
	}

	// SessionsResponse is the body of GET /v1/sessions.
	SessionsResponse struct {
		Sessions []host.SessionInfo `json:"sessions"`
	}

	// UpdateResponse is the body of an accepted POST /v1/update.
	UpdateResponse struct {
		Session int `json:"session"`
	}
)
