package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/peerhours/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox remembers which event ids have been handled.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// Reader is satisfied by *kafka.Reader with a GroupID.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers     string
	GroupID     string
	Topic       string
	MaxAttempts int
	Backoff     time.Duration
}

// Consumer handles one topic at least once. Offsets are committed only after
// a message was handled, found to be a duplicate, or given up on.
type Consumer struct {
	reader  Reader
	logger  *slog.Logger
	inbox   Inbox
	handler Handler
	cfg     Config
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafkax.NewReader(kafkax.SplitBrokers(cfg.Brokers), cfg.GroupID, cfg.Topic)
	return NewWithReader(logger, inbox, reader, cfg, handler)
}

func NewWithReader(logger *slog.Logger, inbox Inbox, reader Reader, cfg Config, handler Handler) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Consumer{
		reader:  reader,
		logger:  logger.With("topic", cfg.Topic),
		inbox:   inbox,
		handler: handler,
		cfg:     cfg,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if err := c.Handle(ctx, msg); err != nil {
			// Inbox unavailable: leave the offset uncommitted so the message
			// is redelivered after a rebalance or restart.
			if !sleep(ctx, c.cfg.Backoff) {
				return
			}
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

// Handle processes one message. It returns an error only when the inbox could
// not be consulted; handler failures are retried, then logged and dropped.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	ctxSpan, span := otel.Tracer("kafka").Start(kafkax.ExtractTraceContext(ctx, msg), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()
	log := c.logger.With("event_id", meta.EventID, "event_type", meta.EventType)

	seen, err := c.inbox.Seen(ctxSpan, meta.EventID)
	if err != nil {
		log.Error("inbox lookup failed", "err", err)
		span.SetStatus(codes.Error, "inbox")
		return err
	}
	if seen {
		log.Info("duplicate event ignored")
		return nil
	}

	if err := c.handleWithRetry(ctxSpan, msg); err != nil {
		log.Error("event dropped", "err", err, "partition", meta.Partition, "offset", meta.Offset)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
		return nil
	}
	if _, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType); err != nil {
		log.Warn("inbox record failed", "err", err)
	}
	return nil
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	var err error
	backoff := c.cfg.Backoff
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		var p permanentError
		if errors.As(err, &p) || attempt == c.cfg.MaxAttempts {
			break
		}
		c.logger.Warn("handler failed, retrying", "err", err, "attempt", attempt)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying, such as a malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
