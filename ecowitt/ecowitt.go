// Package ecowitt fetches station history from the Ecowitt cloud API. The
// history endpoint serves at most one day of 5-minute data per call, so
// window fetches are chunked.
package ecowitt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/angas/meteolog-go/convert"
	"github.com/angas/meteolog-go/fetch"
	"github.com/angas/meteolog-go/types"
)

const (
	defaultServer = "https://api.ecowitt.net"
	historyPath   = "/api/v3/device/history"
	dateLayout    = "2006-01-02 15:04:05"
	chunkSize     = 24 * time.Hour
)

type Config struct {
	Server         string // default https://api.ecowitt.net
	ApplicationKey string
	APIKey         string
	MAC            string
}

type Provider struct {
	name   string
	logger *slog.Logger
	client *fetch.Client
	cfg    Config
}

func New(logger *slog.Logger, client *fetch.Client, name string, cfg Config) *Provider {
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	return &Provider{
		name:   name,
		logger: logger,
		client: client,
		cfg:    cfg,
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Kind() string { return "ecowitt" }

func (p *Provider) FetchWindow(ctx context.Context, since, until time.Time) (types.FetchResult, error) {
	var result types.FetchResult

	for _, chunk := range chunkWindow(since, until, chunkSize) {
		body, err := p.fetchChunk(ctx, chunk.start, chunk.end)
		if err != nil {
			return result, &types.FetchError{Provider: p.name, Err: err}
		}

		samples, dropped, err := p.decodeHistory(body)
		if err != nil {
			return result, &types.FetchError{Provider: p.name, Err: err}
		}
		result.Dropped += dropped

		for _, sample := range samples {
			if sample.Timestamp.Before(since) || !sample.Timestamp.Before(until) {
				continue
			}
			result.Samples = append(result.Samples, sample)
		}
	}

	if result.Dropped > 0 {
		p.logger.Warn("dropped unusable history values", slog.Int("count", result.Dropped))
	}
	p.logger.Debug("history window fetched", slog.Int("samples", len(result.Samples)))
	return result, nil
}

// Normalize decodes one history response body into its samples.
func (p *Provider) Normalize(payload []byte) ([]types.RawSample, error) {
	samples, _, err := p.decodeHistory(payload)
	if err != nil {
		return nil, &types.NormalizeError{Provider: p.name, Err: err}
	}
	return samples, nil
}

type window struct {
	start, end time.Time
}

func chunkWindow(since, until time.Time, size time.Duration) []window {
	var chunks []window
	for start := since; start.Before(until); start = start.Add(size) {
		end := start.Add(size)
		if end.After(until) {
			end = until
		}
		chunks = append(chunks, window{start: start, end: end})
	}
	return chunks
}

func (p *Provider) fetchChunk(ctx context.Context, start, end time.Time) ([]byte, error) {
	resp, err := p.client.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, strings.TrimSuffix(p.cfg.Server, "/")+historyPath, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		q := req.URL.Query()
		q.Set("application_key", p.cfg.ApplicationKey)
		q.Set("api_key", p.cfg.APIKey)
		q.Set("mac", p.cfg.MAC)
		q.Set("start_date", start.UTC().Format(dateLayout))
		// end_date is inclusive, chunks must not overlap
		q.Set("end_date", end.Add(-time.Second).UTC().Format(dateLayout))
		q.Set("call_back", "outdoor,indoor,pressure,wind,solar_and_uvi,rainfall,battery")
		q.Set("cycle_type", "5min")
		q.Set("temp_unitid", "1")       // Celsius
		q.Set("pressure_unitid", "3")   // hPa
		q.Set("rainfall_unitid", "12")  // mm
		q.Set("wind_speed_unitid", "6") // m/s
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

type historyResponse struct {
	Code int                        `json:"code"`
	Msg  string                     `json:"msg"`
	Data map[string]json.RawMessage `json:"data"`
}

type historyChannel struct {
	Unit string         `json:"unit"`
	List map[string]any `json:"list"`
}

// channelMap maps section.channel pairs onto the canonical vocabulary.
// Everything else passes through as raw_<section>_<channel>.
var channelMap = map[string]string{
	"outdoor.temperature":            "temperature_c",
	"outdoor.feels_like":             "feels_like_c",
	"outdoor.dew_point":              "dewpoint_c",
	"outdoor.humidity":               "humidity_pct",
	"pressure.relative":              "pressure_hpa",
	"wind.wind_speed":                "wind_speed_ms",
	"wind.wind_gust":                 "wind_gust_ms",
	"wind.wind_direction":            "wind_dir_deg",
	"solar_and_uvi.solar":            "solar_wm2",
	"solar_and_uvi.uvi":              "uv_index",
	"rainfall.rain_rate":             "rain_rate_mmhr",
	"rainfall.daily":                 "rain_mm",
	"battery.temperature_sensor_ch1": "battery_voltage_v",
}

// decodeHistory flattens the nested section/channel/epoch response into
// per-epoch samples. dropped counts values that could not be used, either an
// unparseable reading or an unparseable epoch key.
func (p *Provider) decodeHistory(body []byte) ([]types.RawSample, int, error) {
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decoding history response: %w", err)
	}
	if resp.Code != 0 {
		return nil, 0, fmt.Errorf("api error %d: %s", resp.Code, resp.Msg)
	}

	dropped := 0
	byEpoch := make(map[int64]map[string]float64)
	for sectionName, raw := range resp.Data {
		var channels map[string]historyChannel
		if err := json.Unmarshal(raw, &channels); err != nil {
			continue
		}
		for channelName, channel := range channels {
			field := canonicalField(sectionName, channelName)
			for epochKey, value := range channel.List {
				epoch, err := strconv.ParseInt(epochKey, 10, 64)
				if err != nil {
					dropped++
					continue
				}
				v, ok := parseValue(value)
				if !ok {
					dropped++
					continue
				}

				fields, ok := byEpoch[epoch]
				if !ok {
					fields = make(map[string]float64)
					byEpoch[epoch] = fields
				}
				fields[field] = convertByUnit(channel.Unit, v)
			}
		}
	}

	epochs := make([]int64, 0, len(byEpoch))
	for epoch := range byEpoch {
		epochs = append(epochs, epoch)
	}
	slices.Sort(epochs)

	samples := make([]types.RawSample, 0, len(epochs))
	for _, epoch := range epochs {
		samples = append(samples, types.RawSample{
			Timestamp: time.Unix(epoch, 0).UTC(),
			Station:   p.name,
			Fields:    byEpoch[epoch],
		})
	}
	return samples, dropped, nil
}

func canonicalField(section, channel string) string {
	if field, ok := channelMap[section+"."+channel]; ok {
		return field
	}
	return "raw_" + section + "_" + channel
}

func parseValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// convertByUnit normalizes a reading based on the unit the API declares.
// The request asks for metric units but accounts defaulting to imperial
// answer in imperial regardless.
func convertByUnit(unit string, v float64) float64 {
	switch strings.TrimSpace(strings.ToLower(unit)) {
	case "℉", "°f", "f":
		return convert.FahrenheitToCelsius(v)
	case "inhg":
		return convert.InhgToHpa(v)
	case "mph":
		return convert.MphToMs(v)
	case "km/h", "kmh":
		return convert.KmhToMs(v)
	default:
		return v
	}
}
