package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/events"
)

type stubStore struct {
	last events.Event
	err  error
}

func (s *stubStore) InsertDomainEvent(_ context.Context, ev events.Event) (events.Event, error) {
	if s.err != nil {
		return events.Event{}, s.err
	}
	s.last = ev
	return ev, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}, Now: func() time.Time { return fixed }}

	aggregate := uuid.NewString()
	event, err := bus.Emit(context.Background(), events.TopicBillCreated, aggregate, map[string]any{"bill_number": "BS-2026-E1001"})
	require.NoError(t, err)
	require.Equal(t, events.TopicBillCreated, store.last.Topic)
	require.Equal(t, aggregate, store.last.AggregateID)
	require.Equal(t, fixed, store.last.OccurredAt)
	require.JSONEq(t, `{"bill_number":"BS-2026-E1001"}`, string(store.last.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), " ", uuid.NewString(), nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicBillDeleted, "not-a-uuid", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicBillDeleted, uuid.NewString(), "{broken")
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{&captureNotifier{err: errors.New("down")}}}
	ev, err := bus.Emit(context.Background(), events.TopicBundleRepriced, uuid.NewString(), nil)
	require.ErrorContains(t, err, "down")
	require.NotEmpty(t, ev.ID)
	require.JSONEq(t, `{}`, string(store.last.Payload))
}

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	n := events.LogNotifier{Logger: zerolog.New(&buf)}
	require.NoError(t, n.Notify(context.Background(), events.Event{ID: "e1", Topic: events.TopicBillCreated, Payload: json.RawMessage(`{"a":1}`)}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "domain_event", line["message"])
	require.Equal(t, events.TopicBillCreated, line["topic"])
}
