package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// SwitchFn exposes an ON/OFF switch under <prefix>/switch/<name>/ and reports
// its state every interval.
func (c *Client) SwitchFn(ctx context.Context, name string, interval time.Duration, onFn func(), offFn func(), stateFn func() bool) func() error {
	topicPrefix := fmt.Sprintf("%s/switch/%s/", c.topicPrefix, name)
	commandTopic := topicPrefix + "command"
	stateTopic := topicPrefix + "state"

	return func() error {
		slog.Debug("subscribing to mqtt switch", "switch", name, "topic", commandTopic, "module", "mqtt")
		err := c.Subscribe(commandTopic, func(client paho.Client, msg paho.Message) {
			slog.Info("mqtt switch command received", "switch", name, "command", string(msg.Payload()), "module", "mqtt")
			if bytes.Equal(bytes.TrimSpace(msg.Payload()), []byte("ON")) {
				onFn()
			} else {
				offFn()
			}
			c.publishSwitch(stateTopic, stateFn())
		})
		if err != nil {
			return fmt.Errorf("mqtt switch %s: %w", name, err)
		}

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if !c.client.IsConnected() {
					slog.Error("mqtt client not connected", "switch", name, "module", "mqtt")
					continue
				}
				c.publishSwitch(stateTopic, stateFn())
			}
		}
	}
}

func (c *Client) publishSwitch(topic string, on bool) {
	state := "OFF"
	if on {
		state = "ON"
	}
	c.Publish(topic, state)
}
