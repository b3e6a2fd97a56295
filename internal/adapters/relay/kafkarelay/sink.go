package kafkarelay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"medical-records-access/internal/fanout"

	"github.com/segmentio/kafka-go"
)

// Sink reenvía los eventos del hub a un topic de Kafka para otros servicios
// que comparten el bus (turnos, archivos). La key es el entity id: todos los
// eventos de un mismo request/grant caen en la misma partición y no se reordenan.
type Sink struct {
	w *kafka.Writer
}

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka relay: brokers and topic required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Sink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: timeout,
		},
	}, nil
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Deliver(ctx context.Context, ev fanout.Event) error {
	msg, err := toMessage(ev)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, msg)
}

func (s *Sink) Close() error {
	return s.w.Close()
}

func toMessage(ev fanout.Event) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.EntityID),
		Value: body,
		Time:  ev.EmittedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}, nil
}
