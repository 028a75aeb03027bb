// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package stream

import (
	"log/slog"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 100

type subscriber struct {
	ch      chan Envelope
	stream  string    // exact stream match; empty when pattern is set
	pattern glob.Glob // compiled pattern match
}

// DropFunc is notified when an envelope could not be delivered to a
// subscriber whose buffer is full.
type DropFunc func(stream string)

// Hub distributes envelopes to subscribers. Safe for concurrent use; drivers
// may be dispatching from many goroutines at once.
type Hub struct {
	mu     sync.RWMutex
	subs   []*subscriber
	onDrop DropFunc
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithDropFunc installs a callback for dropped envelopes, used to feed
// metrics.
func WithDropFunc(fn DropFunc) HubOption {
	return func(h *Hub) {
		h.onDrop = fn
	}
}

// NewHub creates a hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe creates a channel receiving envelopes for exactly one stream.
func (h *Hub) Subscribe(stream string) <-chan Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan Envelope, subscriberBuffer), stream: stream}
	h.subs = append(h.subs, sub)
	return sub.ch
}

// SubscribePattern creates a channel receiving envelopes for every stream
// matching the glob pattern, e.g. "device:*".
func (h *Hub) SubscribePattern(pattern string) (<-chan Envelope, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.With("pattern", pattern).Wrap(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan Envelope, subscriberBuffer), pattern: g}
	h.subs = append(h.subs, sub)
	return sub.ch, nil
}

// Unsubscribe removes a channel and closes it.
func (h *Hub) Unsubscribe(ch <-chan Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subs {
		if sub.ch == ch {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Broadcast delivers an envelope to every matching subscriber. Delivery is
// best-effort: a subscriber with a full buffer misses the envelope.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.pattern != nil {
			if !sub.pattern.Match(env.Stream) {
				continue
			}
		} else if sub.stream != env.Stream {
			continue
		}

		select {
		case sub.ch <- env:
		default:
			slog.Warn("message dropped: subscriber buffer full",
				"stream", env.Stream,
				"envelope_id", env.ID.String(),
			)
			if h.onDrop != nil {
				h.onDrop(env.Stream)
			}
		}
	}
}
