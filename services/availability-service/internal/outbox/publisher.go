package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/peerhours/libs/db"
	"github.com/md-rashed-zaman/peerhours/libs/kafkax"
	otelx "github.com/md-rashed-zaman/peerhours/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	Brokers     string
	PollEvery   time.Duration
	BatchSize   int
	MaxAttempts int
	// Retention is how long published rows are kept. Zero disables purging.
	Retention time.Duration
}

// Publisher relays committed window events from outbox_events to Kafka.
type Publisher struct {
	pool    db.TxQuerier
	repo    *Repository
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
	now     func() time.Time
}

func NewPublisher(pool db.TxQuerier, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Publisher{
		pool:    pool,
		repo:    repo,
		logger:  logger,
		brokers: kafkax.SplitBrokers(cfg.Brokers),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run relays events until ctx is done. Published rows older than the
// retention are purged once an hour.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled, no kafka brokers configured")
		return
	}
	writer := kafkax.NewWriter(p.brokers)
	defer writer.Close()

	poll := time.NewTicker(p.cfg.PollEvery)
	defer poll.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			n, err := p.PublishBatch(ctx, writer)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox events published", "count", n)
			}
		case <-purge.C:
			if _, err := p.Purge(ctx); err != nil {
				p.logger.Warn("outbox purge failed", "err", err)
			}
		}
	}
}

// PublishBatch claims one batch, writes it and marks it published in the
// claim transaction. Messages are keyed by provider id so a provider's
// events stay ordered within a partition. A failed write leaves the batch
// unpublished with its attempt count raised.
func (p *Publisher) PublishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := p.repo.Claim(ctx, tx, p.cfg.BatchSize, p.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, len(batch))
	ids := make([]int64, len(batch))
	for i, e := range batch {
		msgCtx := otelx.ContextWithTraceContext(ctx, e.Traceparent, e.Tracestate)
		msgs[i] = kafka.Message{
			Topic:   e.EventType,
			Key:     []byte(e.AggregateID),
			Value:   e.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, kafkax.EventHeaders(e.EventID, e.EventType)),
		}
		ids[i] = e.ID
	}

	if werr := writer.WriteMessages(ctx, msgs...); werr != nil {
		_ = tx.Rollback(ctx)
		if err := p.repo.MarkFailed(ctx, p.pool, ids, werr); err != nil {
			p.logger.Error("outbox attempt not recorded", "err", err)
		}
		return 0, werr
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// Purge removes published events older than the configured retention.
func (p *Publisher) Purge(ctx context.Context) (int64, error) {
	if p.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.Purge(ctx, p.pool, p.now().Add(-p.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("outbox purged", "rows", n)
	}
	return n, nil
}
