// Package messaging wraps NATS JetStream for the verdict fan-out path:
// the hybrid scorer publishes, the advisory notifier (and any external
// subscriber) consumes off a durable queue group.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/noctisids/noctis/internal/hybrid"
	"github.com/noctisids/noctis/internal/idserr"
)

const (
	StreamVerdicts   = "VERDICTS"
	SubjectVerdicts  = "verdicts.>"
	subjectForHostFmt = "verdicts.%s"
)

// Config holds NATS connection parameters.
type Config struct {
	URL           string
	ReconnectWait time.Duration
	MaxReconnects int
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func Connect(cfg Config) (*Client, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("noctis-ids"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, &idserr.ConfigError{Field: "nats url", Err: err}
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, &idserr.ConfigError{Field: "nats jetstream", Err: err}
	}
	return &Client{nc: nc, js: js}, nil
}

func (c *Client) Close() { c.nc.Close() }

// EnsureStream creates the verdicts stream if it does not already exist.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamVerdicts,
		Subjects: []string{SubjectVerdicts},
	})
	if err != nil {
		return &idserr.StoreError{Op: "ensure verdicts stream", Err: err}
	}
	return nil
}

// PublishVerdict satisfies hybrid.Publisher: every persisted HybridVerdict
// is published to verdicts.<host>, per §4.7.
func (c *Client) PublishVerdict(ctx context.Context, v hybrid.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &idserr.StoreError{Op: "marshal verdict", Err: err}
	}
	subject := fmt.Sprintf(subjectForHostFmt, v.SrcIP)
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return &idserr.StoreError{Op: "publish verdict", Err: err}
	}
	return nil
}

// QueueSubscribeVerdicts installs a durable queue-group consumer on the
// verdicts stream, so exactly one instance of a multi-process consumer
// (the advisory notifier) handles each verdict, per §4.9.
func (c *Client) QueueSubscribeVerdicts(ctx context.Context, queueGroup string, handler func(hybrid.Verdict) error) (jetstream.ConsumeContext, error) {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamVerdicts, jetstream.ConsumerConfig{
		Durable:       queueGroup,
		FilterSubject: SubjectVerdicts,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, &idserr.StoreError{Op: "create verdicts consumer", Err: err}
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var v hybrid.Verdict
		if err := json.Unmarshal(msg.Data(), &v); err != nil {
			msg.Term()
			return
		}
		if err := handler(v); err != nil {
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return nil, &idserr.StoreError{Op: "consume verdicts", Err: err}
	}
	return cc, nil
}
