// SPDX-License-Identifier: MPL-2.0

// Package host answers loader requests against the local catalogs and
// drives retrievals when modules are missing.
//
// A request is validated, resolved against a snapshot of the requested
// sources, and answered at once when everything is installed. Otherwise a
// retrieval session is queued on the session coordinator and the caller
// blocks until that session ends; the request is then resolved again and
// the answer carries the outcome as an error code.
//
// Host is the coordinator's Activator. The retrieval itself (sync every
// source of the session, plan the missing modules, download them, publish
// the refreshed catalogs) runs in a goroutine owned by the Host, so Close
// can cancel and wait for it.
package host
