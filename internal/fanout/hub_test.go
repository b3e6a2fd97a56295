package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medical-records-access/internal/ports/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(kind Kind, entityID string, recipients ...Recipient) Event {
	return Event{
		Kind:       kind,
		EntityID:   entityID,
		Recipients: recipients,
		EmittedAt:  time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s for %s", ev.Kind, sub.UserID())
	default:
	}
}

func TestHub_Publish_DeliversOnlyToAddressedRole(t *testing.T) {
	h := NewHub(HubOptions{})

	patient := h.Subscribe("u-1", auth.RolePatient)
	// mismo user id con otro rol: no debe recibir
	asDoctor := h.Subscribe("u-1", auth.RoleDoctor)
	other := h.Subscribe("u-2", auth.RolePatient)

	n := h.Publish(context.Background(), testEvent(KindRequestCreated, "req-1",
		Recipient{UserID: "u-1", Role: auth.RolePatient},
	))
	assert.Equal(t, 1, n)

	ev := recv(t, patient)
	assert.Equal(t, KindRequestCreated, ev.Kind)
	assert.Equal(t, "req-1", ev.EntityID)

	assertEmpty(t, asDoctor)
	assertEmpty(t, other)
}

func TestHub_Publish_AllSubscriptionsOfUser(t *testing.T) {
	h := NewHub(HubOptions{})

	a := h.Subscribe("doc-1", auth.RoleDoctor)
	b := h.Subscribe("doc-1", auth.RoleDoctor)
	assert.Equal(t, 2, h.Subscribers("doc-1"))

	n := h.Publish(context.Background(), testEvent(KindRequestUpdated, "req-1",
		Recipient{UserID: "doc-1", Role: auth.RoleDoctor},
		Recipient{UserID: "doc-1", Role: auth.RoleDoctor},
	))
	// recipients duplicados no duplican la entrega
	assert.Equal(t, 2, n)

	recv(t, a)
	recv(t, b)
	assertEmpty(t, a)
	assertEmpty(t, b)
}

func TestHub_Publish_PreservesOrderPerEntity(t *testing.T) {
	h := NewHub(HubOptions{SubscriberBuffer: 16})
	sub := h.Subscribe("pat-1", auth.RolePatient)
	to := Recipient{UserID: "pat-1", Role: auth.RolePatient}

	h.Publish(context.Background(), testEvent(KindRequestCreated, "req-1", to))
	h.Publish(context.Background(), testEvent(KindRequestUpdated, "req-1", to))
	h.Publish(context.Background(), testEvent(KindGrantRevoked, "grant-1", to))

	assert.Equal(t, KindRequestCreated, recv(t, sub).Kind)
	assert.Equal(t, KindRequestUpdated, recv(t, sub).Kind)
	assert.Equal(t, KindGrantRevoked, recv(t, sub).Kind)
}

func TestHub_Publish_NoSubscribersIsNotAnError(t *testing.T) {
	h := NewHub(HubOptions{})
	n := h.Publish(context.Background(), testEvent(KindRequestCreated, "req-1",
		Recipient{UserID: "nobody", Role: auth.RolePatient},
	))
	assert.Equal(t, 0, n)
}

func TestHub_Publish_FullBufferDropsWithoutBlocking(t *testing.T) {
	h := NewHub(HubOptions{SubscriberBuffer: 1})
	sub := h.Subscribe("pat-1", auth.RolePatient)
	to := Recipient{UserID: "pat-1", Role: auth.RolePatient}

	assert.Equal(t, 1, h.Publish(context.Background(), testEvent(KindRequestCreated, "req-1", to)))
	assert.Equal(t, 0, h.Publish(context.Background(), testEvent(KindRequestUpdated, "req-1", to)))

	assert.Equal(t, KindRequestCreated, recv(t, sub).Kind)
	assertEmpty(t, sub)
}

func TestSubscription_Close(t *testing.T) {
	h := NewHub(HubOptions{})
	sub := h.Subscribe("pat-1", auth.RolePatient)

	sub.Close()
	sub.Close() // idempotente

	assert.Equal(t, 0, h.Subscribers("pat-1"))

	_, ok := <-sub.C
	assert.False(t, ok)

	n := h.Publish(context.Background(), testEvent(KindRequestCreated, "req-1",
		Recipient{UserID: "pat-1", Role: auth.RolePatient},
	))
	assert.Equal(t, 0, n)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	done   chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Kind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestHub_Run_ForwardsToSinksInOrder(t *testing.T) {
	h := NewHub(HubOptions{})
	failing := &recordingSink{fail: true}
	sink := &recordingSink{done: make(chan struct{}, 8)}
	h.AddSink(failing)
	h.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	to := Recipient{UserID: "pat-1", Role: auth.RolePatient}
	h.Publish(ctx, testEvent(KindRequestCreated, "req-1", to))
	h.Publish(ctx, testEvent(KindRequestUpdated, "req-1", to))

	for i := 0; i < 2; i++ {
		select {
		case <-sink.done:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for sink delivery %d", i)
		}
	}

	// un sink que falla no frena a los siguientes
	assert.Equal(t, []Kind{KindRequestCreated, KindRequestUpdated}, sink.kinds())
	assert.Len(t, failing.kinds(), 2)
}

// stalledSink no devuelve hasta que se cierra release (relay externo caído).
type stalledSink struct {
	release chan struct{}
}

func (s *stalledSink) Name() string { return "stalled" }

func (s *stalledSink) Deliver(ctx context.Context, _ Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestHub_Run_SlowSinkDoesNotStarveOthers(t *testing.T) {
	h := NewHub(HubOptions{RelayBuffer: 4})
	stalled := &stalledSink{release: make(chan struct{})}
	defer close(stalled.release)
	sink := &recordingSink{done: make(chan struct{}, 32)}
	h.AddSink(stalled)
	h.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	to := Recipient{UserID: "pat-1", Role: auth.RolePatient}
	for i := 0; i < 20; i++ {
		h.Publish(ctx, testEvent(KindRequestUpdated, "req-1", to))
		select {
		case <-sink.done:
		case <-time.After(time.Second):
			t.Fatalf("event %d never reached the fast sink", i)
		}
	}

	// la cola del sink trabado se llenó hace rato; el otro recibió todo
	assert.Len(t, sink.kinds(), 20)
}

func TestEvent_AddressedTo(t *testing.T) {
	ev := testEvent(KindGrantRevoked, "grant-1",
		Recipient{UserID: "doc-1", Role: auth.RoleDoctor},
		Recipient{UserID: "pat-1", Role: auth.RolePatient},
	)

	assert.True(t, ev.AddressedTo("doc-1", auth.RoleDoctor))
	assert.True(t, ev.AddressedTo("pat-1", auth.RolePatient))
	assert.False(t, ev.AddressedTo("doc-1", auth.RolePatient))
	assert.False(t, ev.AddressedTo("x", auth.RoleDoctor))
}
