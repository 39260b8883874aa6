// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the modhost CLI commands.
package cmd
