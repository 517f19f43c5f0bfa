// Package ttnmqtt collects live LoRaWAN uplinks from The Things Network
// over MQTT. It covers applications that run without the storage
// integration: instead of querying history it subscribes to the uplink
// topic for a short listen window and keeps whatever arrives.
package ttnmqtt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/angas/meteolog-go/ttn"
	"github.com/angas/meteolog-go/types"
)

const defaultListenFor = 60 * time.Second

// Config holds the TTN MQTT settings. Username is the application id
// including the tenant ("my-app@ttn"), Password an API key with
// messages read rights. Broker may carry a scheme (ssl://) when the
// region endpoint requires TLS.
type Config struct {
	Broker    string
	Port      int
	Username  string
	Password  string
	DeviceID  string
	ListenFor time.Duration
}

type Provider struct {
	name   string
	logger *slog.Logger
	cfg    Config
}

func New(logger *slog.Logger, name string, cfg Config) *Provider {
	mqttLogger := logger.With("module", "mqtt")
	mqtt.CRITICAL = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLogger, slog.LevelWarn)

	return &Provider{
		name:   name,
		logger: logger,
		cfg:    cfg,
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Kind() string { return "ttn-mqtt" }

// FetchWindow connects to the broker, listens on the device uplink
// topic for the configured duration (or until ctx is canceled) and
// returns the decoded samples. Live uplinks land after the nominal
// window end, so the upper cut-off moves to the drain time.
func (p *Provider) FetchWindow(ctx context.Context, since, until time.Time) (types.FetchResult, error) {
	var result types.FetchResult

	listenFor := p.cfg.ListenFor
	if listenFor <= 0 {
		listenFor = defaultListenFor
	}

	col := &collector{}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker, p.cfg.Port))
	opts.SetClientID(fmt.Sprintf("meteolog-%s-%d", p.name, os.Getpid()))
	opts.SetUsername(p.cfg.Username)
	opts.SetPassword(p.cfg.Password)
	opts.SetAutoReconnect(false)
	opts.OnConnect = func(client mqtt.Client) {
		p.logger.Info("ttn MQTT connected", slog.String("broker", p.cfg.Broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		p.logger.Warn("ttn MQTT connection lost", slog.Any("error", err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return result, &types.FetchError{Provider: p.name, Err: token.Error()}
	}
	defer client.Disconnect(250)

	topic := p.topic()
	token := client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		p.consume(col, msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return result, &types.FetchError{Provider: p.name, Err: token.Error()}
	}

	p.logger.Debug("listening for uplinks",
		slog.String("topic", topic),
		slog.Duration("for", listenFor))

	select {
	case <-time.After(listenFor):
	case <-ctx.Done():
	}

	unsub := client.Unsubscribe(topic)
	unsub.WaitTimeout(1 * time.Second)
	if unsub.Error() != nil {
		p.logger.Warn("error unsubscribing from uplink topic", slog.Any("error", unsub.Error()))
	}

	if err := ctx.Err(); err != nil {
		return result, &types.FetchError{Provider: p.name, Err: err}
	}

	samples, dropped := col.drain()
	result.Dropped = dropped

	end := until
	if now := time.Now().UTC(); now.After(end) {
		end = now
	}
	for _, sample := range samples {
		if sample.Timestamp.Before(since) || !sample.Timestamp.Before(end) {
			continue
		}
		result.Samples = append(result.Samples, sample)
	}

	if result.Dropped > 0 {
		p.logger.Warn("dropped malformed uplinks", slog.Int("count", result.Dropped))
	}
	p.logger.Debug("listen window done",
		slog.Int("received", len(samples)),
		slog.Int("samples", len(result.Samples)))
	return result, nil
}

// Normalize decodes one uplink message payload. The payload is the
// same envelope JSON the storage API streams, so the decode is shared.
func (p *Provider) Normalize(payload []byte) ([]types.RawSample, error) {
	sample, ok, err := ttn.DecodeUplink(payload, p.cfg.DeviceID, p.name)
	if err != nil {
		return nil, &types.NormalizeError{Provider: p.name, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return []types.RawSample{sample}, nil
}

func (p *Provider) consume(col *collector, payload []byte) {
	samples, err := p.Normalize(payload)
	if err != nil {
		col.drop()
		p.logger.Warn("discarding malformed uplink", slog.Any("error", err))
		return
	}
	col.add(samples)
}

func (p *Provider) topic() string {
	return fmt.Sprintf("v3/%s/devices/%s/up", p.cfg.Username, p.cfg.DeviceID)
}

func brokerURL(broker string, port int) string {
	if strings.Contains(broker, "://") {
		return fmt.Sprintf("%s:%d", broker, port)
	}
	return fmt.Sprintf("tcp://%s:%d", broker, port)
}

// collector accumulates samples from the paho callback goroutine.
type collector struct {
	mu      sync.Mutex
	samples []types.RawSample
	dropped int
}

func (c *collector) add(samples []types.RawSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, samples...)
}

func (c *collector) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func (c *collector) drain() ([]types.RawSample, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples, c.dropped
}
