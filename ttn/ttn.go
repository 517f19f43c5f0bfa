// Package ttn fetches LoRaWAN uplinks from The Things Network storage
// integration. The storage API replays retained uplinks as a server-sent
// event stream.
package ttn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/angas/meteolog-go/fetch"
	"github.com/angas/meteolog-go/types"
)

const storagePath = "/api/v3/as/applications/%s/packages/storage/uplink_message"

type Config struct {
	Server        string
	ApplicationID string
	DeviceID      string
	Token         string
}

type Provider struct {
	name   string
	logger *slog.Logger
	client *fetch.Client
	cfg    Config
}

func New(logger *slog.Logger, client *fetch.Client, name string, cfg Config) *Provider {
	return &Provider{
		name:   name,
		logger: logger,
		client: client,
		cfg:    cfg,
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Kind() string { return "ttn" }

func (p *Provider) FetchWindow(ctx context.Context, since, until time.Time) (types.FetchResult, error) {
	var result types.FetchResult

	resp, err := p.client.Do(ctx, func() (*http.Request, error) {
		return p.buildRequest(since, until)
	})
	if err != nil {
		return result, &types.FetchError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	events, err := readEvents(resp.Body)
	if err != nil {
		return result, &types.FetchError{Provider: p.name, Err: fmt.Errorf("reading event stream: %w", err)}
	}

	for _, event := range events {
		samples, err := p.Normalize([]byte(event))
		if err != nil {
			result.Dropped++
			continue
		}
		for _, sample := range samples {
			if sample.Timestamp.Before(since) || !sample.Timestamp.Before(until) {
				continue
			}
			result.Samples = append(result.Samples, sample)
		}
	}

	if result.Dropped > 0 {
		p.logger.Warn("dropped malformed uplinks", slog.Int("count", result.Dropped))
	}
	p.logger.Debug("storage window fetched",
		slog.Int("events", len(events)),
		slog.Int("samples", len(result.Samples)))
	return result, nil
}

func (p *Provider) buildRequest(since, until time.Time) (*http.Request, error) {
	url := strings.TrimSuffix(p.cfg.Server, "/") + fmt.Sprintf(storagePath, p.cfg.ApplicationID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	q := req.URL.Query()
	q.Set("after", since.UTC().Format(time.RFC3339))
	q.Set("before", until.UTC().Format(time.RFC3339))
	q.Set("field_mask", "up.uplink_message.decoded_payload")
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Accept", "text/event-stream")
	return req, nil
}

// Normalize decodes one storage event into at most one sample. Events from
// other devices in the application and keep-alive events yield no sample
// and no error.
func (p *Provider) Normalize(payload []byte) ([]types.RawSample, error) {
	sample, ok, err := DecodeUplink(payload, p.cfg.DeviceID, p.name)
	if err != nil {
		return nil, &types.NormalizeError{Provider: p.name, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return []types.RawSample{sample}, nil
}
