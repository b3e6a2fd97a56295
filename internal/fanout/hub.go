package fanout

import (
	"context"
	"strings"
	"sync"

	"medical-records-access/internal/platform/logger"
	"medical-records-access/internal/ports/auth"

	"github.com/samber/lo"
)

const (
	defaultSubscriberBuffer = 64
	defaultRelayBuffer      = 1024
)

// Sink recibe todos los eventos en orden de publicación (proof chain, relays).
// Cada sink tiene su cola y su goroutine: uno lento no frena ni hace
// descartar eventos a los demás.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

type HubOptions struct {
	Logger logger.Logger

	SubscriberBuffer int

	// RelayBuffer es el tamaño de la cola de cada sink.
	RelayBuffer int
}

// Hub es el registro de suscriptores por user id.
// Entrega best-effort, at-most-once: si el buffer de un suscriptor está lleno
// el evento se descarta para ese suscriptor.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}

	sinks []*sinkWorker

	subBuffer   int
	relayBuffer int
	log         logger.Logger
}

type sinkWorker struct {
	sink  Sink
	queue chan Event
}

func NewHub(opts HubOptions) *Hub {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	subBuf := opts.SubscriberBuffer
	if subBuf <= 0 {
		subBuf = defaultSubscriberBuffer
	}
	relayBuf := opts.RelayBuffer
	if relayBuf <= 0 {
		relayBuf = defaultRelayBuffer
	}

	return &Hub{
		subs:      make(map[string]map[*Subscription]struct{}),
		subBuffer:   subBuf,
		relayBuffer: relayBuf,
		log:         log.With(map[string]any{"component": "fanout"}),
	}
}

// AddSink registra un sink. Llamar antes de Run.
func (h *Hub) AddSink(s Sink) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, &sinkWorker{sink: s, queue: make(chan Event, h.relayBuffer)})
}

type Subscription struct {
	C <-chan Event

	ch     chan Event
	hub    *Hub
	userID string
	role   auth.Role
	closed bool
}

func (s *Subscription) UserID() string { return s.userID }
func (s *Subscription) Role() auth.Role { return s.role }

// Close desregistra y cierra C. Idempotente.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if set, ok := s.hub.subs[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.userID)
		}
	}
	close(s.ch)
}

// Subscribe registra un suscriptor para (userID, role).
func (h *Hub) Subscribe(userID string, role auth.Role) *Subscription {
	ch := make(chan Event, h.subBuffer)
	sub := &Subscription{
		C:      ch,
		ch:     ch,
		hub:    h,
		userID: strings.TrimSpace(userID),
		role:   role,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sub.userID] = set
	}
	set[sub] = struct{}{}

	h.log.Debug("subscriber registered", map[string]any{"user_id": sub.userID, "role": string(role)})
	return sub
}

// Publish entrega el evento a los suscriptores conectados y lo encola para
// los sinks. Devuelve cuántos suscriptores lo recibieron.
//
// Se envía bajo el lock del registro: dos Publish sucesivos llegan a cada
// suscriptor en el mismo orden en que se llamaron.
func (h *Hub) Publish(ctx context.Context, ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	userIDs := lo.Uniq(lo.Map(ev.Recipients, func(r Recipient, _ int) string { return r.UserID }))
	for _, userID := range userIDs {
		for sub := range h.subs[userID] {
			if !ev.AddressedTo(sub.userID, sub.role) {
				continue
			}
			select {
			case sub.ch <- ev:
				delivered++
			default:
				h.log.Warn("subscriber buffer full, event dropped", map[string]any{
					"user_id":   sub.userID,
					"role":      string(sub.role),
					"kind":      string(ev.Kind),
					"entity_id": ev.EntityID,
				})
			}
		}
	}

	for _, w := range h.sinks {
		select {
		case w.queue <- ev:
		default:
			h.log.Error("sink queue full, event not forwarded", map[string]any{
				"sink":      w.sink.Name(),
				"kind":      string(ev.Kind),
				"entity_id": ev.EntityID,
			})
		}
	}

	return delivered
}

// Run arranca un worker por sink y bloquea hasta que ctx se cancela.
// Cada worker entrega su cola en orden.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	workers := append([]*sinkWorker(nil), h.sinks...)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *sinkWorker) {
			defer wg.Done()
			h.drain(ctx, w)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

func (h *Hub) drain(ctx context.Context, w *sinkWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.queue:
			if err := w.sink.Deliver(ctx, ev); err != nil {
				h.log.Warn("sink delivery failed", map[string]any{
					"sink":      w.sink.Name(),
					"kind":      string(ev.Kind),
					"entity_id": ev.EntityID,
					"err":       err,
				})
			}
		}
	}
}

// Subscribers devuelve cuántas suscripciones activas tiene userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
