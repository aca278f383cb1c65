package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/observach/apiserver/config"
)

// NATSClient publishes and subscribes on core NATS subjects. Delivery is
// at-most-once; a failing handler cannot ask for redelivery.
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the server at cfg.URL.
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}

	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSClient{conn: conn}, nil
}

// Publish sends data on the subject named by channel. NATS has no broker
// side message ids, so a random one is generated and sent as a header.
func (n *NATSClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("nats channel is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := newMessageID()
	msg := nats.NewMsg(channel)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, messageID)
	for key, value := range attrs {
		msg.Header.Set(key, value)
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return "", err
	}
	return messageID, nil
}

// Subscribe delivers messages on channel to handler until ctx is done.
func (n *NATSClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("nats channel is required")
	}

	sub, err := n.conn.Subscribe(channel, func(msg *nats.Msg) {
		attrs := make(map[string]string, len(msg.Header))
		for key := range msg.Header {
			attrs[key] = msg.Header.Get(key)
		}
		_ = handler(ctx, Message{
			ID:         msg.Header.Get(nats.MsgIdHdr),
			Data:       msg.Data,
			Attributes: attrs,
		})
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	if err := n.conn.Flush(); err != nil {
		return err
	}
	notifySubscribed(ctx)

	<-ctx.Done()
	return ctx.Err()
}

// Close drains pending messages and closes the connection.
func (n *NATSClient) Close() error {
	return n.conn.Drain()
}
