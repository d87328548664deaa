// Package events broadcasts committed lifecycle transitions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"content-pilot/internal/ports"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// message is the wire envelope published for every event.
type message struct {
	ports.Event
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events on <prefix>.<event type>, e.g.
// content.article.published.
type NATSNotifier struct {
	conn   publisher
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

var _ ports.Notifier = (*NATSNotifier)(nil)

func NewNATSNotifier(url, prefix string, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("content-pilot"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSNotifier{conn: nc, nc: nc, prefix: prefix, logger: logger}, nil
}

func (n *NATSNotifier) Subject(eventType string) string {
	if n.prefix == "" {
		return eventType
	}
	return strings.TrimSuffix(n.prefix, ".") + "." + eventType
}

func (n *NATSNotifier) Notify(ctx context.Context, event ports.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(message{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Source:    "content-pilot",
		Version:   "1.0",
	})
	if err != nil {
		return err
	}
	subject := n.Subject(event.Type)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.logger.Debug("Event published", zap.String("subject", subject), zap.String("article_id", event.ArticleID))
	return nil
}

// Close drains pending messages before closing the connection.
func (n *NATSNotifier) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

// Nop discards events when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, ports.Event) error { return nil }
