// Package stream publishes committed ledger events to NATS JetStream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

var _ ports.EventPublisher = (*Publisher)(nil)

// DefaultSubjectPrefix is prepended to the event kind to form the subject.
const DefaultSubjectPrefix = "wallet.ledger.events"

// Publisher sends committed events to {prefix}.{event_kind}. The event id is
// used as the JetStream message id, so redelivery within the stream's
// duplicate window is dropped server-side.
type Publisher struct {
	js     jetstream.JetStream
	prefix string
	log    zerolog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream, prefix string, log zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{js: js, prefix: prefix, log: log}
}

// Subject returns the subject an event kind is published on.
func (p *Publisher) Subject(kind domain.EventKind) string {
	return fmt.Sprintf("%s.%s", p.prefix, kind)
}

// Publish sends every event and reports all failures together.
func (p *Publisher) Publish(ctx context.Context, events []domain.StoredEvent) error {
	var errs []error
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal event %s: %w", evt.ID, err))
			continue
		}
		ack, err := p.js.Publish(ctx, p.Subject(evt.Kind), data, jetstream.WithMsgID(evt.ID.String()))
		if err != nil {
			errs = append(errs, fmt.Errorf("publish event %s: %w", evt.ID, err))
			continue
		}
		p.log.Debug().
			Str("event_id", evt.ID.String()).
			Str("stream", ack.Stream).
			Uint64("stream_seq", ack.Sequence).
			Msg("event published")
	}
	return errors.Join(errs...)
}

// StreamOptions configure the outbound stream.
type StreamOptions struct {
	Name          string
	SubjectPrefix string
	MaxAge        time.Duration
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, opts StreamOptions, log zerolog.Logger) error {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 72 * time.Hour
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       opts.Name,
		Subjects:   []string{opts.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     opts.MaxAge,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", opts.Name).Msg("ensured outbound stream")
	return nil
}

// Connect dials NATS and returns the connection with its JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("wallet-ledger"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}
