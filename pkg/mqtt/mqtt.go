package mqtt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/mikesmitty/maglev/pkg/controller"
	"github.com/mikesmitty/maglev/pkg/stats"
)

type Client struct {
	client      paho.Client
	clientID    string
	topicPrefix string
	qos         byte
	retained    bool
	sampleRate  int
	hassSensors map[string]HassSensor
	mu          sync.Mutex
}

func NewClient(broker *url.URL, sampleRate int) *Client {
	hostname, _ := os.Hostname()
	hostname = strings.Split(hostname, ".")[0]
	clientID := hostname
	if clientID == "" {
		now := time.Now().UnixNano()
		sum := md5.Sum([]byte(strconv.FormatInt(now, 10)))
		clientID = hex.EncodeToString(sum[:])
	}

	slog.Info("connecting to mqtt", "url", broker, "clientid", clientID, "module", "mqtt")
	pc := paho.NewClient(&paho.ClientOptions{
		Servers:        []*url.URL{broker},
		ClientID:       clientID,
		ConnectRetry:   true,
		AutoReconnect:  true,
		ConnectTimeout: 30 * time.Second,
	})
	return newClient(pc, clientID, "maglev/"+clientID, sampleRate)
}

func newClient(pc paho.Client, clientID, topicPrefix string, sampleRate int) *Client {
	if sampleRate < 1 {
		sampleRate = 1
	}
	return &Client{
		client:      pc,
		clientID:    clientID,
		topicPrefix: topicPrefix,
		qos:         1,
		sampleRate:  sampleRate,
		hassSensors: make(map[string]HassSensor),
	}
}

func (c *Client) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		slog.Error("mqtt connection failed", "error", token.Error(), "module", "mqtt")
		return token.Error()
	}
	return nil
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	if token := c.client.Subscribe(topic, c.qos, handler); token.Wait() && token.Error() != nil {
		slog.Error("mqtt subscription failed", "topic", topic, "error", token.Error(), "module", "mqtt")
		return token.Error()
	}
	return nil
}

// Counters are the cumulative loop health counters.
type Counters struct {
	Steps       uint64
	Overruns    uint64
	Saturations uint64
	ReadErrors  uint64
	DriveErrors uint64
}

// GetPublisher publishes decimated loop samples, the rolling duty, error
// statistics and, every interval, the loop counters.
func (c *Client) GetPublisher(ctx context.Context, sampleChan <-chan controller.Sample, dutyChan <-chan float64, statsChan <-chan stats.Summary, counters func() Counters, interval time.Duration) func() error {
	vHall := c.RegisterHassSensor(c.NewHassSensor("Sensor Voltage", HassSensorVoltage))
	command := c.RegisterHassSensor(c.NewHassSensor("Coil Command", HassSensorGeneric))
	filterOut := c.RegisterHassSensor(c.NewHassSensor("Filter Output", HassSensorGeneric))
	loopError := c.RegisterHassSensor(c.NewHassSensor("Loop Error", HassSensorVoltage))
	duty := c.RegisterHassSensor(c.NewHassSensor("Duty Cycle", HassSensorDuty))
	errRMS := c.RegisterHassSensor(c.NewHassSensor("Loop Error RMS", HassSensorVoltage))
	errDrift := c.RegisterHassSensor(c.NewHassSensor("Loop Error Drift", HassSensorGeneric))
	steps := c.RegisterHassSensor(c.NewHassSensor("Control Steps", HassSensorCounter))
	overruns := c.RegisterHassSensor(c.NewHassSensor("Overruns", HassSensorCounter))
	saturations := c.RegisterHassSensor(c.NewHassSensor("Saturations", HassSensorCounter))
	readErrors := c.RegisterHassSensor(c.NewHassSensor("Sensor Read Errors", HassSensorCounter))
	driveErrors := c.RegisterHassSensor(c.NewHassSensor("Drive Errors", HassSensorCounter))

	sample := NewSample(c.sampleRate)

	return func() error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case s, ok := <-sampleChan:
				if !ok {
					sampleChan = nil
					continue
				}
				if !sample.Ready() {
					continue
				}
				slog.Debug("mqtt publishing", "field", "sample", "value", s, "module", "mqtt")
				c.HassPublishSensor(vHall, formatFloat(s.VHall, 4))
				c.HassPublishSensor(command, formatFloat(s.U, 2))
				c.HassPublishSensor(filterOut, formatFloat(s.DU, 5))
				c.HassPublishSensor(loopError, formatFloat(s.E, 5))
			case d, ok := <-dutyChan:
				if !ok {
					dutyChan = nil
					continue
				}
				c.HassPublishSensor(duty, formatFloat(d, 2))
			case s, ok := <-statsChan:
				if !ok {
					statsChan = nil
					continue
				}
				c.HassPublishSensor(errRMS, formatFloat(s.RMS, 5))
				c.HassPublishSensor(errDrift, strconv.FormatFloat(s.Drift, 'g', 4, 64))
			case <-t.C:
				n := counters()
				c.HassPublishSensor(steps, strconv.FormatUint(n.Steps, 10))
				c.HassPublishSensor(overruns, strconv.FormatUint(n.Overruns, 10))
				c.HassPublishSensor(saturations, strconv.FormatUint(n.Saturations, 10))
				c.HassPublishSensor(readErrors, strconv.FormatUint(n.ReadErrors, 10))
				c.HassPublishSensor(driveErrors, strconv.FormatUint(n.DriveErrors, 10))
			}
		}
	}
}

func (c *Client) Publish(topic string, msg string) {
	t := c.client.Publish(topic, c.qos, c.retained, msg)
	go func() {
		_ = t.WaitTimeout(5 * time.Second)
		if t.Error() != nil {
			slog.Error("mqtt message publish failed", "topic", topic, "error", t.Error(), "module", "mqtt")
		}
	}()
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
