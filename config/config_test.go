package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("TTN_API_KEY", "secret-key-123")

	path := writeConfig(t, `
database:
  path: state/meteolog.db
logging:
  console_level: DEBUG
  db_level: ERROR
  db_format: text
archive:
  data_dir: /var/lib/meteolog
  interval_minutes: 15
  weekly_retention_days: 30
fetch:
  timeout_seconds: 10
  max_retries: 5
  initial_backoff_seconds: 2
  max_backoff_seconds: 60
run_log:
  max_log_entries: 500
  run_retention_days: 30
providers:
  - name: alpine-lora
    type: ttn
    lookback: 72h
    ttn:
      application_id: my-weather-app
      device_id: alpine-lora
      token: ${TTN_API_KEY}
  - name: backyard
    type: ecowitt
    output_dir: /srv/backyard
    ecowitt:
      application_key: ak
      api_key: sk
      mac: "C8:C9:A3:00:00:01"
  - name: barn-live
    type: ttn-mqtt
    enabled: false
    ttn_mqtt:
      broker: eu1.cloud.thethings.network
      username: my-weather-app@ttn
      password: ${TTN_API_KEY}
      device_id: barn-lora
      listen_for: 90s
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("sections", func(t *testing.T) {
		if got := c.Database.GetPath(); got != "state/meteolog.db" {
			t.Errorf("got db path %q, wanted %q", got, "state/meteolog.db")
		}
		if got := c.Logging.GetConsoleLevel(); got != slog.LevelDebug {
			t.Errorf("got console level %v, wanted %v", got, slog.LevelDebug)
		}
		if got := c.Logging.GetDbLevel(); got != slog.LevelError {
			t.Errorf("got db level %v, wanted %v", got, slog.LevelError)
		}
		if got := c.Logging.GetDbFormat(); got != "TEXT" {
			t.Errorf("got db format %q, wanted %q", got, "TEXT")
		}
		if got := c.Archive.GetInterval(); got != 15*time.Minute {
			t.Errorf("got interval %v, wanted %v", got, 15*time.Minute)
		}
		if got := c.Archive.GetWeeklyRetention(); got != 30*24*time.Hour {
			t.Errorf("got retention %v, wanted %v", got, 30*24*time.Hour)
		}
		if got := c.Fetch.GetTimeout(); got != 10*time.Second {
			t.Errorf("got timeout %v, wanted %v", got, 10*time.Second)
		}
		if got := c.Fetch.GetMaxRetries(); got != 5 {
			t.Errorf("got max retries %d, wanted 5", got)
		}
		if got := c.RunLog.GetMaxLogEntries(); got != 500 {
			t.Errorf("got max log entries %d, wanted 500", got)
		}
	})

	t.Run("providers", func(t *testing.T) {
		if len(c.Providers) != 3 {
			t.Fatalf("got %d providers, wanted 3", len(c.Providers))
		}

		ttn := c.Providers[0]
		if ttn.Ttn == nil {
			t.Fatal("missing ttn sub-config")
		}
		if got := ttn.Ttn.Token; got != "secret-key-123" {
			t.Errorf("got token %q, wanted expanded env value", got)
		}
		if got := ttn.Ttn.GetServer(); got != "https://eu1.cloud.thethings.network" {
			t.Errorf("got server %q, wanted default cluster", got)
		}
		if got := ttn.GetLookback(); got != 72*time.Hour {
			t.Errorf("got lookback %v, wanted %v", got, 72*time.Hour)
		}
		if got := ttn.GetOutputDir("/data"); got != filepath.Join("/data", "alpine-lora") {
			t.Errorf("got output dir %q, wanted default under data dir", got)
		}

		eco := c.Providers[1]
		if got := eco.GetOutputDir("/data"); got != "/srv/backyard" {
			t.Errorf("got output dir %q, wanted explicit override", got)
		}

		live := c.Providers[2]
		if live.GetEnabled() {
			t.Error("expected provider to be disabled")
		}
		if live.TtnMqtt == nil {
			t.Fatal("missing ttn_mqtt sub-config")
		}
		if got := live.TtnMqtt.GetListenFor(); got != 90*time.Second {
			t.Errorf("got listen_for %v, wanted %v", got, 90*time.Second)
		}
		if got := live.TtnMqtt.GetPort(); got != 1883 {
			t.Errorf("got port %d, wanted default 1883", got)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: alpine
    type: ttn
    ttn:
      application_id: app
      device_id: dev
      token: tok
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := c.Database.GetPath(); got != "meteolog.db" {
		t.Errorf("got db path %q, wanted %q", got, "meteolog.db")
	}
	if got := c.Logging.GetConsoleLevel(); got != slog.LevelInfo {
		t.Errorf("got console level %v, wanted %v", got, slog.LevelInfo)
	}
	if got := c.Logging.GetDbFormat(); got != "JSON" {
		t.Errorf("got db format %q, wanted %q", got, "JSON")
	}
	if got := c.Archive.GetDataDir(); got != "data" {
		t.Errorf("got data dir %q, wanted %q", got, "data")
	}
	if got := c.Archive.GetInterval(); got != 30*time.Minute {
		t.Errorf("got interval %v, wanted %v", got, 30*time.Minute)
	}
	if got := c.Archive.GetWeeklyRetention(); got != 90*24*time.Hour {
		t.Errorf("got retention %v, wanted %v", got, 90*24*time.Hour)
	}
	if got := c.Fetch.GetMaxRetries(); got != 3 {
		t.Errorf("got max retries %d, wanted 3", got)
	}
	if got := c.Fetch.GetInitialBackoff(); got != time.Second {
		t.Errorf("got initial backoff %v, wanted %v", got, time.Second)
	}
	if got := c.RunLog.GetRunRetention(); got != 365*24*time.Hour {
		t.Errorf("got run retention %v, wanted %v", got, 365*24*time.Hour)
	}

	p := c.Providers[0]
	if !p.GetEnabled() {
		t.Error("expected provider enabled by default")
	}
	if got := p.GetLookback(); got != 168*time.Hour {
		t.Errorf("got lookback %v, wanted %v", got, 168*time.Hour)
	}
}

func TestLoadLeavesUnknownPlaceholderLiteral(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: alpine
    type: ttn
    ttn:
      application_id: app
      device_id: dev
      token: ${METEOLOG_TEST_UNSET_VAR}
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Providers[0].Ttn.Token; got != "${METEOLOG_TEST_UNSET_VAR}" {
		t.Errorf("got token %q, wanted literal placeholder", got)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing sub-config for type",
			`
providers:
  - name: alpine
    type: ttn
`,
		},
		{
			"unknown provider type",
			`
providers:
  - name: alpine
    type: csv
    ttn:
      application_id: app
      device_id: dev
      token: tok
`,
		},
		{
			"duplicate provider names",
			`
providers:
  - name: alpine
    type: ttn
    ttn: {application_id: app, device_id: dev, token: tok}
  - name: alpine
    type: ttn
    ttn: {application_id: app, device_id: dev, token: tok}
`,
		},
		{
			"unsafe provider name",
			`
providers:
  - name: ../evil
    type: ttn
    ttn: {application_id: app, device_id: dev, token: tok}
`,
		},
		{
			"interval not dividing a day",
			`
archive:
  interval_minutes: 7
providers:
  - name: alpine
    type: ttn
    ttn: {application_id: app, device_id: dev, token: tok}
`,
		},
		{
			"negative lookback",
			`
providers:
  - name: alpine
    type: ttn
    lookback: -1h
    ttn: {application_id: app, device_id: dev, token: tok}
`,
		},
		{
			"empty ecowitt credentials",
			`
providers:
  - name: backyard
    type: ecowitt
    ecowitt:
      application_key: ""
      api_key: ""
      mac: ""
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Errorf("got %T, wanted *config.Error", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("METEOLOG_TEST_TOKEN", "abc123")

	got := string(expandEnv([]byte("token: ${METEOLOG_TEST_TOKEN}, other: ${METEOLOG_TEST_UNSET_VAR}")))
	want := "token: abc123, other: ${METEOLOG_TEST_UNSET_VAR}"
	if got != want {
		t.Errorf("got %q, wanted %q", got, want)
	}
}
