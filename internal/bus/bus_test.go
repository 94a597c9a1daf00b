// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/whitebeet/pkg/session"
)

func newTestBus(t *testing.T) *PubSubBus {
	t.Helper()
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	return b
}

func receive(t *testing.T, ch Subscription) any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	ch := b.Subscribe("a")

	b.Publish("a", 1)
	b.Publish("b", 2)
	b.Publish("a", 3)

	assert.Equal(t, 1, receive(t, ch))
	assert.Equal(t, 3, receive(t, ch))
}

func TestObserve_RoutesByKind(t *testing.T) {
	b := newTestBus(t)
	all := b.Subscribe(TopicSession)
	states := b.Subscribe(TopicState)
	ended := b.Subscribe(TopicEnded)

	var obs session.Observer = b
	obs.Observe(session.Event{Kind: session.EventStateChanged, State: session.StateSlacMatching})
	result := &session.Result{Reason: session.ReasonCompleted}
	obs.Observe(session.Event{Kind: session.EventEnded, Result: result})

	e := receive(t, all).(session.Event)
	assert.Equal(t, session.StateSlacMatching, e.State)
	e = receive(t, all).(session.Event)
	assert.Equal(t, session.EventEnded, e.Kind)

	e = receive(t, states).(session.Event)
	assert.Equal(t, session.StateSlacMatching, e.State)

	e = receive(t, ended).(session.Event)
	assert.Same(t, result, e.Result)
}

func TestObserve_DoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := newTestBus(t)
	ch := b.Subscribe(TopicMeasurement)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Observe(session.Event{Kind: session.EventMeasurement, SOC: uint8(i % 100)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Observe blocked on a subscriber nobody reads")
	}
	_, ok := receive(t, ch).(session.Event)
	assert.True(t, ok)
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch := b.Subscribe(TopicState, TopicEnded)

	b.Unsubscribe(ch, TopicState)
	b.Observe(session.Event{Kind: session.EventStateChanged})
	b.Observe(session.Event{Kind: session.EventEnded})
	e := receive(t, ch).(session.Event)
	assert.Equal(t, session.EventEnded, e.Kind)

	b.Close()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, TopicNotification, TopicOf(session.EventNotification))
	assert.Equal(t, TopicSessionError, TopicOf(session.EventSessionError))
	assert.Equal(t, TopicSession, TopicOf(session.EventKind(99)))
}
