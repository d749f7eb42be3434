// SPDX-License-Identifier: AGPL-3.0-or-later
package pubsub

import (
	"context"

	"github.com/USA-RedDragon/fulcrum/internal/config"
)

// PubSub is the transport the message bus rides on: a topic-addressed,
// at-most-once byte stream. It carries no knowledge of envelopes,
// correlation, or retries — those live in internal/bus.
type PubSub interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string) Subscription
	Close() error
}

// Subscription is a live feed of messages published to one topic.
type Subscription interface {
	Close() error
	Channel() <-chan []byte
}

// MakePubSub returns the Redis-backed transport when Redis is enabled, and
// an in-process transport otherwise. The in-process transport is what lets
// a single registry/backend/proxy binary run standalone against itself in
// tests and local development, without a Redis instance.
func MakePubSub(ctx context.Context, config *config.Config) (PubSub, error) {
	if config.Redis.Enabled {
		return makePubSubFromRedis(ctx, config)
	}
	return makeInMemoryPubSub(config)
}
