// Probe fetches one provider window and prints the normalized samples
// without touching the archive. Useful when bringing up a new station.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/angas/meteolog-go/config"
	"github.com/angas/meteolog-go/ecowitt"
	"github.com/angas/meteolog-go/fetch"
	"github.com/angas/meteolog-go/ttn"
	"github.com/angas/meteolog-go/ttnmqtt"
	"github.com/angas/meteolog-go/types"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	name := flag.String("provider", "", "provider name from the config")
	lookback := flag.Duration("lookback", 0, "override the provider lookback")
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339,
	}))

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	pc, err := pickProvider(cnfg, *name)
	if err != nil {
		panic(err)
	}

	provider, err := newProvider(logger, pc, fetch.Config{
		Timeout:        cnfg.Fetch.GetTimeout(),
		MaxRetries:     cnfg.Fetch.GetMaxRetries(),
		InitialBackoff: cnfg.Fetch.GetInitialBackoff(),
		MaxBackoff:     cnfg.Fetch.GetMaxBackoff(),
	})
	if err != nil {
		panic(err)
	}

	lb := pc.GetLookback()
	if *lookback > 0 {
		lb = *lookback
	}
	until := time.Now().UTC()
	since := until.Add(-lb)

	res, err := provider.FetchWindow(context.Background(), since, until)
	if err != nil {
		panic(err)
	}

	slices.SortStableFunc(res.Samples, func(a, b types.RawSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	for _, s := range res.Samples {
		fields := make([]string, 0, len(s.Fields))
		for name, value := range s.Fields {
			fields = append(fields, fmt.Sprintf("%s=%g", name, value))
		}
		slices.Sort(fields)
		fmt.Printf("%s  %s  %s\n", s.Timestamp.Format(time.RFC3339), s.Station, strings.Join(fields, " "))
	}
	fmt.Printf("%d samples, %d dropped\n", len(res.Samples), res.Dropped)
}

func pickProvider(cnfg *config.AppConfig, name string) (config.AppConfigProvider, error) {
	if name == "" {
		if len(cnfg.Providers) == 1 {
			return cnfg.Providers[0], nil
		}
		names := make([]string, len(cnfg.Providers))
		for i, pc := range cnfg.Providers {
			names[i] = pc.Name
		}
		return config.AppConfigProvider{}, fmt.Errorf("pick a provider with -provider, config has: %s", strings.Join(names, ", "))
	}
	for _, pc := range cnfg.Providers {
		if pc.Name == name {
			return pc, nil
		}
	}
	return config.AppConfigProvider{}, fmt.Errorf("no provider named %q in config", name)
}

func newProvider(logger *slog.Logger, pc config.AppConfigProvider, fetchCnfg fetch.Config) (types.SampleProvider, error) {
	switch pc.Type {
	case "ttn":
		return ttn.New(logger, fetch.NewClient(logger, pc.Name, fetchCnfg), pc.Name, ttn.Config{
			Server:        pc.Ttn.GetServer(),
			ApplicationID: pc.Ttn.ApplicationID,
			DeviceID:      pc.Ttn.DeviceID,
			Token:         pc.Ttn.Token,
		}), nil

	case "ecowitt":
		return ecowitt.New(logger, fetch.NewClient(logger, pc.Name, fetchCnfg), pc.Name, ecowitt.Config{
			Server:         pc.Ecowitt.Server,
			ApplicationKey: pc.Ecowitt.ApplicationKey,
			APIKey:         pc.Ecowitt.ApiKey,
			MAC:            pc.Ecowitt.Mac,
		}), nil

	case "ttn-mqtt":
		return ttnmqtt.New(logger, pc.Name, ttnmqtt.Config{
			Broker:    pc.TtnMqtt.Broker,
			Port:      pc.TtnMqtt.GetPort(),
			Username:  pc.TtnMqtt.Username,
			Password:  pc.TtnMqtt.Password,
			DeviceID:  pc.TtnMqtt.DeviceID,
			ListenFor: pc.TtnMqtt.GetListenFor(),
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider type %q for %s", pc.Type, pc.Name)
	}
}
