// SPDX-License-Identifier: MPL-2.0

// Package hostserver exposes a Host over loopback HTTP.
//
// Applications post loader requests to the server and block until they are
// answered, which may include a retrieval queued behind other sessions.
// Every /v1 endpoint requires the bearer token printed by `modhost serve`;
// /health and /metrics are open. The Client finds the server through the
// MODHOST_ADDR and MODHOST_TOKEN environment variables.
package hostserver
