// SPDX-License-Identifier: MPL-2.0

// Package events fans out host events to websocket subscribers.
//
// The host publishes session and catalog lifecycle events to a Hub. Each
// subscriber has a bounded buffer; a subscriber that falls behind loses
// events rather than stalling the publisher.
package events
