package ingester

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/callaudit/audit-service/internal/correlator"
	"github.com/callaudit/audit-service/internal/events"
	"github.com/callaudit/audit-service/internal/metrics"
)

// DLQHandlerFunc is called for every payload routed to the dead-letter
// subject (unparsable envelope or payload).
type DLQHandlerFunc func(ctx context.Context, subject string, data []byte)

const (
	streamName   = "CALL_EVENTS"
	consumerName = "audit-service"
)

var streamSubjects = []string{"calls.>"}

// inputSubjects are the only subjects this service consumes. The stream also
// carries calls.audited and calls.dlq.>, which this service produces.
var inputSubjects = []string{
	events.SubjectTranscribed,
	events.SubjectSentiment,
	events.SubjectVoc,
}

type Ingester struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	corr       *correlator.Correlator
	subs       []jetstream.ConsumeContext
	dlqHandler DLQHandlerFunc
	ctx        context.Context
	cancel     context.CancelFunc
}

func New(natsURL string, corr *correlator.Correlator) (*Ingester, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ictx, ican := context.WithCancel(context.Background())
	return &Ingester{
		nc:     nc,
		js:     js,
		corr:   corr,
		ctx:    ictx,
		cancel: ican,
	}, nil
}

// Start binds a durable consumer to the call-events stream and begins
// consuming the three analysis subjects.
func (ing *Ingester) Start() error {
	ctx := context.Background()

	if err := ing.ensureStream(ctx); err != nil {
		return fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	consumer, err := ing.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Name:           consumerName,
		Durable:        consumerName,
		FilterSubjects: inputSubjects,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     3,
		AckWait:        30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ing.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	ing.subs = append(ing.subs, cc)
	slog.Info("subscribed to stream", "stream", streamName, "consumer", consumerName, "subjects", inputSubjects)
	return nil
}

func (ing *Ingester) ensureStream(ctx context.Context) error {
	_, err := ing.js.Stream(ctx, streamName)
	if err == nil {
		return nil
	}

	_, err = ing.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  streamSubjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}

	slog.Info("created stream", "name", streamName, "subjects", streamSubjects)
	return nil
}

func (ing *Ingester) handleMessage(msg jetstream.Msg) {
	subject := msg.Subject()

	env, err := events.Normalize(msg.Data())
	if err != nil {
		ing.deadLetter(subject, msg.Data(), err)
		_ = msg.Ack()
		return
	}

	switch subject {
	case events.SubjectTranscribed:
		t, err := events.DecodeTranscription(env)
		if err != nil {
			ing.deadLetter(subject, msg.Data(), err)
			_ = msg.Ack()
			return
		}
		ing.corr.AddTranscription(ing.ctx, t)

	case events.SubjectSentiment:
		s, err := events.DecodeSentiment(env)
		if err != nil {
			ing.deadLetter(subject, msg.Data(), err)
			_ = msg.Ack()
			return
		}
		ing.corr.AddSentiment(ing.ctx, s)

	case events.SubjectVoc:
		v, err := events.DecodeVoiceInsight(env)
		if err != nil {
			ing.deadLetter(subject, msg.Data(), err)
			_ = msg.Ack()
			return
		}
		ing.corr.AddInsight(ing.ctx, v)

	default:
		slog.Warn("message on unexpected subject", "subject", subject)
		_ = msg.Ack()
		return
	}

	metrics.EventsConsumed.WithLabelValues(subject).Inc()

	// Ack after the correlator has the input. If the bundle completed, the
	// whole audit (including its persistence retry loop) has already run on
	// this goroutine, so a crash before this ack is the only window where
	// redelivery matters, and the audit_results unique constraint makes such
	// a replay harmless.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", subject, "error", err)
	}
}

// deadLetter reroutes an unusable payload to the DLQ subject so it is kept
// and alertable instead of silently dropped.
func (ing *Ingester) deadLetter(subject string, data []byte, cause error) {
	slog.Warn("malformed event, routing to DLQ", "subject", subject, "error", cause)
	metrics.MalformedEvents.WithLabelValues(subject).Inc()

	dlqSubject := events.SubjectDLQPrefix + subject
	if ing.nc != nil {
		if err := ing.nc.Publish(dlqSubject, data); err != nil {
			slog.Error("failed to publish to DLQ subject", "subject", dlqSubject, "error", err)
		}
	}

	if ing.dlqHandler != nil {
		ing.dlqHandler(ing.ctx, subject, data)
	}
}

// SetDLQHandler registers a callback for dead-lettered payloads.
func (ing *Ingester) SetDLQHandler(fn DLQHandlerFunc) {
	ing.dlqHandler = fn
}

// Publish sends a message to NATS (used for the CallAudited verdict and
// lifecycle announcements).
func (ing *Ingester) Publish(subject string, data []byte) error {
	return ing.nc.Publish(subject, data)
}

// Close drains subscriptions and closes the NATS connection.
func (ing *Ingester) Close() {
	ing.cancel()
	for _, cc := range ing.subs {
		cc.Stop()
	}
	ing.nc.Drain()
}
