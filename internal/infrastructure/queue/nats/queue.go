package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
)

const (
	DefaultImpressionSubject = "impressions.log"
	impressionQueueGroup     = "impression-writers"

	headerMsgID       = "Nats-Msg-Id"
	headerPublishedAt = "Lfm-Published-At"
	headerSchema      = "Lfm-Feature-Schema"

	drainTimeout = 5 * time.Second
)

type Options struct {
	ClientName     string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// FailFast makes Connect return an error when no server is reachable
	// instead of retrying in the background.
	FailFast bool
	Executor *resilience.Executor
}

func (o Options) withDefaults() Options {
	if o.ClientName == "" {
		o.ClientName = "lostfound-matcher"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	return o
}

// Queue carries impressions from the API to the worker that persists them.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

// Delivery is one impression as received by the worker.
type Delivery struct {
	Impression  domain.Impression
	PublishedAt time.Time
}

func Connect(url, subject string, opts Options) (*Queue, error) {
	opts = opts.withDefaults()
	if subject == "" {
		subject = DefaultImpressionSubject
	}
	conn, err := nats.Connect(url,
		nats.Name(opts.ClientName),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(!opts.FailFast),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("impression_queue_disconnected", "subject", subject, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("impression_queue_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect impression queue: %w", err)
	}
	return &Queue{conn: conn, subject: subject, executor: opts.Executor}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishImpression(ctx context.Context, imp domain.Impression) error {
	msg, err := encodeImpression(q.subject, imp, time.Now())
	if err != nil {
		return err
	}
	publish := func(context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish impression %s: %w", imp.ImpressionID, err)
		}
		return nil
	}
	if q.executor == nil {
		return markTemporary(publish(ctx))
	}
	return markTemporary(q.executor.Execute(ctx, "nats.publish", publish, classifyPublishError))
}

// SubscribeImpressions joins the writer queue group and hands each delivery to
// handle until ctx ends, then drains. Messages that fail to decode are dropped.
func (q *Queue) SubscribeImpressions(ctx context.Context, handle func(context.Context, Delivery) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, impressionQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		d, err := decodeDelivery(msg)
		if err != nil {
			slog.Error("impression_decode_failed", "bytes", len(msg.Data), "error", err)
			return
		}
		if err := handle(ctx, d); err != nil {
			slog.Error("impression_handler_failed", "impression_id", d.Impression.ImpressionID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", q.subject, err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}
	return q.conn.FlushTimeout(drainTimeout)
}

func encodeImpression(subject string, imp domain.Impression, now time.Time) (*nats.Msg, error) {
	data, err := json.Marshal(imp)
	if err != nil {
		return nil, fmt.Errorf("marshal impression: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerMsgID, imp.ImpressionID)
	msg.Header.Set(headerPublishedAt, now.UTC().Format(time.RFC3339Nano))
	msg.Header.Set(headerSchema, domain.FeatureSchemaVersion)
	return msg, nil
}

// decodeDelivery falls back to the impression timestamp when the publish
// header is missing.
func decodeDelivery(msg *nats.Msg) (Delivery, error) {
	imp, err := DecodeImpression(msg.Data)
	if err != nil {
		return Delivery{}, err
	}
	d := Delivery{Impression: imp, PublishedAt: imp.Timestamp}
	if msg.Header != nil {
		if ts, err := time.Parse(time.RFC3339Nano, msg.Header.Get(headerPublishedAt)); err == nil {
			d.PublishedAt = ts
		}
	}
	return d, nil
}

func DecodeImpression(data []byte) (domain.Impression, error) {
	var imp domain.Impression
	if err := json.Unmarshal(data, &imp); err != nil {
		return domain.Impression{}, fmt.Errorf("decode impression: %w", err)
	}
	if imp.ImpressionID == "" || imp.QueryID == "" {
		return domain.Impression{}, fmt.Errorf("decode impression: missing ids")
	}
	return imp, nil
}
