// SPDX-License-Identifier: MPL-2.0

// Package session serializes retrieval flows across concurrent requesters.
//
// A Coordinator admits sessions in submission order. At most one session is
// active at a time; the Activator is asked to start its retrieval, and the
// coordinator waits for a CompleteActive call carrying the session's
// terminal outcome. The next queued session is then promoted and activated
// again with promoted set, so it can re-check what it still needs against
// the catalog the previous session may have updated.
//
// Requesters hold only the *Session handle and learn the outcome through
// Done or Wait. Every submitted session receives exactly one outcome: when
// activation fails, or the coordinator is closed, the outcome is Canceled.
package session
