// SPDX-License-Identifier: MPL-2.0

// Package serverbase holds the lifecycle state machine shared by long-running
// servers: Created, Starting, Running, Stopping, then Stopped or Failed.
// A Base is single-use; once it reaches a terminal state a new one is needed.
package serverbase
