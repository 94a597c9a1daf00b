// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus fans session events out to the dashboard, the history store
// and any other listener.
package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"

	"github.com/Thermoquad/whitebeet/pkg/session"
)

// Topics. Every session event is published on TopicSession and on the
// topic of its kind.
const (
	TopicSession      = "session"
	TopicState        = "session.state"
	TopicNotification = "session.notification"
	TopicMeasurement  = "session.measurement"
	TopicSessionError = "session.error"
	TopicEnded        = "session.ended"
)

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus backed by cskr/pubsub. It implements
// session.Observer.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *PubSubBus {
	return &PubSubBus{
		ps:     pubsub.New(128),
		logger: logger,
	}
}

// Publish blocks until every subscriber of topic took msg
func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

// Close shuts the bus down. Every subscription channel is closed.
func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

// Observe publishes e without waiting for slow subscribers, which miss
// the event instead of stalling the session. A channel subscribed to
// TopicSession and a kind topic receives the event twice.
func (b *PubSubBus) Observe(e session.Event) {
	if topic := TopicOf(e.Kind); topic != TopicSession {
		b.ps.TryPub(e, TopicSession, topic)
		return
	}
	b.ps.TryPub(e, TopicSession)
}

// TopicOf returns the topic events of kind are published on
func TopicOf(kind session.EventKind) string {
	switch kind {
	case session.EventStateChanged:
		return TopicState
	case session.EventNotification:
		return TopicNotification
	case session.EventMeasurement:
		return TopicMeasurement
	case session.EventSessionError:
		return TopicSessionError
	case session.EventEnded:
		return TopicEnded
	default:
		return TopicSession
	}
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
