package mqtt

import (
	"encoding/json"
	"errors"
	"log/slog"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mikesmitty/maglev/pkg/tuning"
)

// TuneState is published on <prefix>/tune/state after every command.
type TuneState struct {
	Params string  `json:"params"`
	Gain   float64 `json:"gain"`
	Zero   float64 `json:"zero"`
	Pole   float64 `json:"pole"`
	Ref    float64 `json:"ref"`
	Bias   float64 `json:"bias"`
	Scale  float64 `json:"scale"`
	Error  string  `json:"error,omitempty"`
}

// Tuning accepts "<tag><float>" payloads on <prefix>/tune/command.
func (c *Client) Tuning(u tuning.Updater) error {
	commandTopic := c.topicPrefix + "/tune/command"
	stateTopic := c.topicPrefix + "/tune/state"

	c.publishTuneState(stateTopic, u, nil)
	return c.Subscribe(commandTopic, func(client paho.Client, msg paho.Message) {
		line := string(msg.Payload())
		_, err := tuning.Apply(u, line)
		if errors.Is(err, tuning.ErrEmpty) {
			return
		}
		if err != nil {
			slog.Warn("mqtt tuning command failed", "command", line, "error", err, "module", "mqtt")
		}
		c.publishTuneState(stateTopic, u, err)
	})
}

func (c *Client) publishTuneState(topic string, u tuning.Updater, err error) {
	cfg := u.Config()
	st := TuneState{
		Params: cfg.String(),
		Gain:   cfg.Gain,
		Zero:   cfg.Zero,
		Pole:   cfg.Pole,
		Ref:    cfg.Ref,
		Bias:   cfg.Bias,
		Scale:  cfg.Scale,
	}
	if err != nil {
		st.Error = err.Error()
	}
	payload, mErr := json.Marshal(st)
	if mErr != nil {
		slog.Error("json marshal error", "error", mErr, "module", "mqtt")
		return
	}
	c.Publish(topic, string(payload))
}
