package ttn

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angas/meteolog-go/fetch"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"result":{"a":1}}`,
		``,
		`: keep-alive comment`,
		``,
		`data: {"result":`,
		`data: {"b":2}}`,
		``,
		`{"bare":3}`,
		``,
	}, "\n")

	events, err := readEvents(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}

	want := []string{
		`{"result":{"a":1}}`,
		"{\"result\":\n{\"b\":2}}",
		`{"bare":3}`,
	}
	if len(events) != len(want) {
		t.Fatalf("events got %d, wanted %d: %q", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d got %q, wanted %q", i, events[i], want[i])
		}
	}
}

func TestReadEventsFlushesUnterminatedEvent(t *testing.T) {
	events, err := readEvents(strings.NewReader(`data: {"a":1}`))
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	if len(events) != 1 || events[0] != `{"a":1}` {
		t.Errorf("events got %q, wanted single {\"a\":1}", events)
	}
}

const storageEvent = `{"result":{
	"end_device_ids":{"device_id":"alpine-lora"},
	"received_at":"2026-03-01T00:07:12.123456789Z",
	"uplink_message":{
		"f_cnt":417,
		"decoded_payload":{"temperature_c":10.5,"humidity_pct":81,"soil_ph":6.4,"heater_on":true,"fw":"1.2.0"},
		"rx_metadata":[{"rssi":-92.0},{"rssi":-101.0}]
	}
}}`

func TestDecodeUplink(t *testing.T) {
	sample, ok, err := DecodeUplink([]byte(storageEvent), "alpine-lora", "alpine")
	if err != nil || !ok {
		t.Fatalf("DecodeUplink got ok=%v err=%v, wanted a sample", ok, err)
	}

	wantTs := time.Date(2026, 3, 1, 0, 7, 12, 123456789, time.UTC)
	if !sample.Timestamp.Equal(wantTs) {
		t.Errorf("timestamp got %v, wanted %v", sample.Timestamp, wantTs)
	}
	if sample.Station != "alpine" {
		t.Errorf("station got %q, wanted alpine", sample.Station)
	}

	wantFields := map[string]float64{
		"temperature_c":       10.5,
		"humidity_pct":        81,
		"raw_soil_ph":         6.4, // not in the canonical vocabulary
		"raw_heater_on":       1,
		"signal_strength_dbm": -92, // first gateway wins
		"raw_f_cnt":           417,
	}
	for name, want := range wantFields {
		got, present := sample.Fields[name]
		if !present || !almostEqual(got, want) {
			t.Errorf("field %s got %v (present=%v), wanted %v", name, got, present, want)
		}
	}
	if _, present := sample.Fields["raw_fw"]; present {
		t.Errorf("non-numeric payload value should be skipped")
	}
}

func TestDecodeUplinkBareEnvelope(t *testing.T) {
	// The MQTT integration sends the result object without the wrapper.
	bare := `{
		"end_device_ids":{"device_id":"barn-lora"},
		"received_at":"2026-03-01T10:00:00Z",
		"uplink_message":{"f_cnt":3,"decoded_payload":{"temperature_c":-2.5}}
	}`

	sample, ok, err := DecodeUplink([]byte(bare), "barn-lora", "barn")
	if err != nil || !ok {
		t.Fatalf("DecodeUplink got ok=%v err=%v, wanted a sample", ok, err)
	}
	if !almostEqual(sample.Fields["temperature_c"], -2.5) {
		t.Errorf("temperature_c got %v, wanted -2.5", sample.Fields["temperature_c"])
	}
}

func TestDecodeUplinkFiltersOtherDevices(t *testing.T) {
	_, ok, err := DecodeUplink([]byte(storageEvent), "some-other-device", "station")
	if err != nil {
		t.Fatalf("DecodeUplink: %v", err)
	}
	if ok {
		t.Errorf("uplink from another device should be filtered, not decoded")
	}
}

func TestDecodeUplinkSkipsEventsWithoutUplink(t *testing.T) {
	_, ok, err := DecodeUplink([]byte(`{"result":{"end_device_ids":{"device_id":"x"}}}`), "", "station")
	if err != nil {
		t.Fatalf("DecodeUplink: %v", err)
	}
	if ok {
		t.Errorf("event without uplink_message should be skipped silently")
	}
}

func TestDecodeUplinkMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{"result":`},
		{"missing received_at", `{"result":{"end_device_ids":{"device_id":"d"},"uplink_message":{"decoded_payload":{"temperature_c":1}}}}`},
		{"no usable field", `{"result":{"end_device_ids":{"device_id":"d"},"received_at":"2026-03-01T00:00:00Z","uplink_message":{"decoded_payload":{"fw":"1.2.0","mode":"eco"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := DecodeUplink([]byte(tt.payload), "", "station")
			if err == nil || ok {
				t.Errorf("got ok=%v err=%v, wanted an error", ok, err)
			}
		})
	}
}

func TestFetchWindow(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"result":{"end_device_ids":{"device_id":"dev1"},"received_at":"2026-03-01T00:07:00Z","uplink_message":{"f_cnt":1,"decoded_payload":{"temperature_c":10}}}}`,
		``,
		`data: {"result":{"end_device_ids":{"device_id":"dev1"},"received_at":"2026-03-01T01:30:00Z","uplink_message":{"f_cnt":2,"decoded_payload":{"temperature_c":11}}}}`,
		``,
		`data: {"result":{"end_device_ids":{"device_id":"dev1"},"uplink_message":{"decoded_payload":{"temperature_c":12}}}}`,
		``,
		`data: {"result":{"end_device_ids":{"device_id":"dev2"},"received_at":"2026-03-01T00:10:00Z","uplink_message":{"f_cnt":9,"decoded_payload":{"temperature_c":99}}}}`,
		``,
	}, "\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization header got %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept header got %q", got)
		}
		if got := r.URL.Query().Get("after"); got != "2026-03-01T00:00:00Z" {
			t.Errorf("after param got %q", got)
		}
		if !strings.Contains(r.URL.Path, "/applications/my-app/") {
			t.Errorf("path got %q, wanted application id in it", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(stream))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := fetch.NewClient(logger, "ttn-test", fetch.Config{
		Timeout:        2 * time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
	p := New(logger, client, "alpine", Config{
		Server:        srv.URL,
		ApplicationID: "my-app",
		DeviceID:      "dev1",
		Token:         "secret-token",
	})

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	result, err := p.FetchWindow(context.Background(), since, until)
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}

	// dev1 at 00:07 is in the window, 01:30 is outside, the event without
	// received_at is dropped, dev2 is filtered.
	if len(result.Samples) != 1 {
		t.Fatalf("samples got %d, wanted 1: %+v", len(result.Samples), result.Samples)
	}
	if result.Dropped != 1 {
		t.Errorf("dropped got %d, wanted 1", result.Dropped)
	}
	s := result.Samples[0]
	if !s.Timestamp.Equal(time.Date(2026, 3, 1, 0, 7, 0, 0, time.UTC)) {
		t.Errorf("timestamp got %v, wanted 00:07", s.Timestamp)
	}
	if !almostEqual(s.Fields["temperature_c"], 10) {
		t.Errorf("temperature_c got %v, wanted 10", s.Fields["temperature_c"])
	}
}
