// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bus layers envelope, correlation, and request/response semantics
// on top of internal/pubsub's raw byte-stream transport. Every other
// package talks to the bus, never to internal/pubsub directly.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/metrics"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/puzpuzpuz/xsync/v4"
)

// ErrTimeout is returned by Request when no matching response arrives
// before the deadline.
var ErrTimeout = errors.New("bus: request timed out")

// outboxCap bounds the number of queued envelopes held while the
// underlying transport is unavailable, per the bounded-queue failure
// semantics in the message bus design.
const outboxCap = 1000

// Handler processes a fully decoded envelope delivered to a subscription.
// Handlers for a single (channel, subscriber) pair are invoked serially;
// handlers across channels or subscribers run concurrently and a slow
// handler never blocks another subscriber's delivery.
type Handler func(env *envelope.Envelope)

// Bus is the envelope-aware pub/sub and request/response substrate every
// Fulcrum component communicates through.
type Bus struct {
	ps      pubsub.PubSub
	metrics *metrics.Metrics
	selfID  atomic.Value // string

	mu   sync.Mutex
	subs map[string][]*subscription

	correlations *xsync.Map[string, chan *envelope.Envelope]
	inFlight     atomic.Int64

	replySub *subscription

	outbox chan outboxItem
	done   chan struct{}
}

type outboxItem struct {
	channel string
	env     *envelope.Envelope
}

type subscription struct {
	channel string
	handler Handler
	sub     pubsub.Subscription
	queue   chan *envelope.Envelope
	stop    chan struct{}
}

// New wraps ps (typically constructed by pubsub.MakePubSub) with envelope
// and correlation semantics. The sender id used on outbound envelopes and
// the reply-channel subscription starts empty; call SetSelfID to set it,
// and again when identity is upgraded from temporary to permanent (see
// internal/identity).
func New(ps pubsub.PubSub, m *metrics.Metrics) *Bus {
	b := &Bus{
		ps:           ps,
		metrics:      m,
		subs:         make(map[string][]*subscription),
		correlations: xsync.NewMap[string, chan *envelope.Envelope](),
		outbox:       make(chan outboxItem, outboxCap),
		done:         make(chan struct{}),
	}
	b.selfID.Store("")
	go b.drainOutbox()
	return b
}

// SetSelfID updates the sender id used on outbound envelopes and migrates
// the standing reply-channel subscription to the new id's reply channel.
func (b *Bus) SetSelfID(id string) error {
	b.selfID.Store(id)
	if b.replySub != nil {
		if err := b.unsubscribeInternal(b.replySub); err != nil {
			return err
		}
	}
	sub, err := b.subscribeInternal(channels.Response(id), b.handleReply)
	if err != nil {
		return err
	}
	b.replySub = sub
	return nil
}

func (b *Bus) selfIDValue() string {
	v, _ := b.selfID.Load().(string)
	return v
}

func (b *Bus) handleReply(env *envelope.Envelope) {
	ch, ok := b.correlations.Load(env.CorrelationID)
	if !ok {
		return
	}
	select {
	case ch <- env:
	default:
	}
}

// Publish performs a fire-and-forget broadcast on channel.
func (b *Bus) Publish(channel, msgType string, payload any) error {
	return b.enqueue(channel, msgType, nil, "", payload)
}

// Send performs a directed delivery: the envelope's targetId is set so
// subscribers can filter, but delivery still happens over channel (every
// subscriber receives the bytes; only the intended target acts on it).
func (b *Bus) Send(targetID, channel, msgType string, payload any) error {
	return b.enqueue(channel, msgType, &targetID, "", payload)
}

func (b *Bus) enqueue(channel, msgType string, targetID *string, correlationID string, payload any) error {
	env, err := envelope.New(msgType, b.selfIDValue(), targetID, payload)
	if err != nil {
		return err
	}
	if correlationID != "" {
		env = env.WithCorrelationID(correlationID)
	}
	select {
	case b.outbox <- outboxItem{channel: channel, env: env}:
		return nil
	default:
		slog.Warn("bus outbox full, dropping oldest envelope", "channel", channel)
		if b.metrics != nil {
			b.metrics.RecordEnvelopeDropped(channel)
		}
		select {
		case <-b.outbox:
		default:
		}
		b.outbox <- outboxItem{channel: channel, env: env}
		return nil
	}
}

func (b *Bus) drainOutbox() {
	backoff := 250 * time.Millisecond
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-b.done:
			return
		case item := <-b.outbox:
			start := time.Now()
			raw, err := envelope.Encode(item.env)
			if err != nil {
				slog.Error("bus: failed encoding envelope", "type", item.env.Type, "error", err)
				continue
			}
			for {
				if err := b.ps.Publish(item.channel, raw); err != nil {
					slog.Warn("bus: publish failed, retrying", "channel", item.channel, "error", err, "backoff", backoff)
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
					continue
				}
				break
			}
			backoff = 250 * time.Millisecond
			if b.metrics != nil {
				b.metrics.RecordBusPublish(item.channel, "ok", time.Since(start).Seconds())
			}
		}
	}
}

// Subscribe registers handler for every envelope published on channel.
// Envelopes addressed to a different target (TargetID set and not equal to
// this bus's self id) are delivered to the handler anyway per the at-least-
// filtering contract described in §4.2; callers that only care about
// directed messages should check env.Target() themselves.
func (b *Bus) Subscribe(channel string, handler Handler) (func() error, error) {
	sub, err := b.subscribeInternal(channel, handler)
	if err != nil {
		return nil, err
	}
	return func() error { return b.unsubscribeInternal(sub) }, nil
}

func (b *Bus) subscribeInternal(channel string, handler Handler) (*subscription, error) {
	raw := b.ps.Subscribe(channel)
	sub := &subscription{
		channel: channel,
		handler: handler,
		sub:     raw,
		queue:   make(chan *envelope.Envelope, 256),
		stop:    make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go b.pump(sub)
	go b.dispatch(sub)
	return sub, nil
}

// pump decodes bytes off the raw subscription and queues them for serial
// delivery to this one subscriber, so a slow handler never blocks the
// shared raw channel used by other subscribers of the same topic.
func (b *Bus) pump(sub *subscription) {
	for {
		select {
		case <-sub.stop:
			return
		case raw, ok := <-sub.sub.Channel():
			if !ok {
				return
			}
			env, err := envelope.Decode(raw)
			if err != nil {
				slog.Error("bus: dropping undecodable envelope", "channel", sub.channel, "error", err)
				if b.metrics != nil {
					b.metrics.RecordDecodeError(sub.channel)
				}
				continue
			}
			select {
			case sub.queue <- env:
			case <-sub.stop:
				return
			}
		}
	}
}

func (b *Bus) dispatch(sub *subscription) {
	for {
		select {
		case <-sub.stop:
			return
		case env := <-sub.queue:
			sub.handler(env)
		}
	}
}

func (b *Bus) unsubscribeInternal(sub *subscription) error {
	close(sub.stop)
	b.mu.Lock()
	list := b.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			b.subs[sub.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return sub.sub.Close()
}

// Request sends a directed message and awaits a correlated response,
// failing with ErrTimeout if none arrives before timeout.
func (b *Bus) Request(ctx context.Context, targetID, channel, msgType string, payload any, timeout time.Duration) (*envelope.Envelope, error) {
	env, err := envelope.New(msgType, b.selfIDValue(), &targetID, payload)
	if err != nil {
		return nil, err
	}
	replyCh := make(chan *envelope.Envelope, 1)
	b.correlations.Store(env.CorrelationID, replyCh)
	b.inFlight.Add(1)
	if b.metrics != nil {
		b.metrics.BusRequestsInFlight.Set(float64(b.inFlight.Load()))
	}
	defer func() {
		b.correlations.Delete(env.CorrelationID)
		b.inFlight.Add(-1)
		if b.metrics != nil {
			b.metrics.BusRequestsInFlight.Set(float64(b.inFlight.Load()))
		}
	}()

	select {
	case b.outbox <- outboxItem{channel: channel, env: env}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case resp := <-replyCh:
		return resp, nil
	case <-t.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers a request envelope with a response payload, addressed back
// to the requester's reply channel and carrying the same correlation id.
func (b *Bus) Reply(req *envelope.Envelope, msgType string, payload any) error {
	return b.enqueue(channels.Response(req.SenderID), msgType, &req.SenderID, req.CorrelationID, payload)
}

// Close stops the outbox worker and the underlying transport.
func (b *Bus) Close() error {
	close(b.done)
	return b.ps.Close()
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
