/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	NodeID        string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "playout",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher mirrors local bus events onto NATS subjects
// "<prefix>.<event type>" for downstream consumers such as rundown displays.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	nodeID string
	logger zerolog.Logger
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig, logger zerolog.Logger) (*NATSPublisher, error) {
	logger = logger.With().Str("component", "eventbus").Logger()
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "playout"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("playoutd-"+cfg.NodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Str("subject_prefix", cfg.SubjectPrefix).Msg("nats publisher connected")
	return &NATSPublisher{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		nodeID: cfg.NodeID,
		logger: logger,
	}, nil
}

// Publish sends one event. Failures are logged; events are best effort.
func (p *NATSPublisher) Publish(eventType events.EventType, payload events.Payload) {
	data, err := marshalNATSMessage(eventType, payload, p.nodeID)
	if err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("encode nats message")
		return
	}
	if err := p.conn.Publish(Subject(p.prefix, eventType), data); err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("publish nats message")
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Subject returns the NATS subject for eventType.
func Subject(prefix string, eventType events.EventType) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(eventType)
}

// Forward relays every event published on bus to pub until ctx is done.
func Forward(ctx context.Context, bus *events.Bus, pub events.Publisher) {
	var wg sync.WaitGroup
	for _, eventType := range events.AllEventTypes {
		sub := bus.Subscribe(eventType)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					pub.Publish(eventType, payload)
				}
			}
		}(eventType, sub)
	}
	wg.Wait()
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}
