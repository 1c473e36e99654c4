package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Bridge relays hub events to an MQTT broker and injects events published by
// other instances back into the hub.
type Bridge struct {
	client mqtt.Client
	hub    *Hub
	origin string
	prefix string
	logger *slog.Logger
}

// NewBridge prepares a bridge for brokerURL (e.g. tcp://localhost:1883). It
// does not connect until Run is called.
func NewBridge(brokerURL, prefix, origin string, hub *Hub, logger *slog.Logger) *Bridge {
	b := &Bridge{
		hub:    hub,
		origin: origin,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("parking-server-%s", origin)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(b.prefix+"/events/#", 0, b.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Error("mqtt subscribe failed", "error", err)
			return
		}
		b.logger.Info("mqtt bridge subscribed", "topic", b.prefix+"/events/#")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", "error", err)
	})

	b.client = mqtt.NewClient(opts)
	return b
}

// Topic returns the MQTT topic an event kind is published on.
func (b *Bridge) Topic(kind Kind) string {
	return b.prefix + "/events/" + string(kind)
}

// Run connects and forwards locally originated events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	events, unsubscribe := b.hub.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			b.client.Disconnect(250)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Origin != b.origin {
				continue
			}
			b.forward(ev)
		}
	}
}

func (b *Bridge) forward(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encode change event", "kind", ev.Kind, "error", err)
		return
	}

	token := b.client.Publish(b.Topic(ev.Kind), 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		b.logger.Warn("mqtt publish timed out", "kind", ev.Kind)
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Warn("mqtt publish failed", "kind", ev.Kind, "error", err)
	}
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var ev Event
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		b.logger.Warn("mqtt event decode failed", "topic", msg.Topic(), "error", err)
		return
	}
	if ev.Kind == "" || ev.Origin == "" {
		b.logger.Warn("mqtt event missing kind or origin", "topic", msg.Topic())
		return
	}
	if ev.Origin == b.origin {
		return
	}
	b.hub.Publish(ev)
}
