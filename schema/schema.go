// Package schema defines the canonical field vocabulary shared by all
// station backends and the gap-fill policy the resampler applies per field.
package schema

import "strings"

// FillPolicy controls how grid gaps are filled for a field.
type FillPolicy int

const (
	// FillNone leaves gaps empty.
	FillNone FillPolicy = iota
	// FillInterpolate fills linearly between the nearest known values,
	// never beyond the first or last known value.
	FillInterpolate
	// FillForward carries the last known value forward, never backward.
	FillForward
)

type FieldSpec struct {
	Name string
	Unit string
	Fill FillPolicy
}

// Known is the canonical vocabulary in archive column order. Continuous
// physical quantities interpolate, discrete state forward-fills.
var Known = []FieldSpec{
	{Name: "temperature_c", Unit: "°C", Fill: FillInterpolate},
	{Name: "humidity_pct", Unit: "%", Fill: FillInterpolate},
	{Name: "dewpoint_c", Unit: "°C", Fill: FillInterpolate},
	{Name: "feels_like_c", Unit: "°C", Fill: FillInterpolate},
	{Name: "pressure_hpa", Unit: "hPa", Fill: FillInterpolate},
	{Name: "wind_speed_ms", Unit: "m/s", Fill: FillInterpolate},
	{Name: "wind_gust_ms", Unit: "m/s", Fill: FillInterpolate},
	{Name: "wind_dir_deg", Unit: "°", Fill: FillInterpolate},
	{Name: "rain_mm", Unit: "mm", Fill: FillInterpolate},
	{Name: "rain_rate_mmhr", Unit: "mm/h", Fill: FillInterpolate},
	{Name: "solar_wm2", Unit: "W/m²", Fill: FillInterpolate},
	{Name: "uv_index", Unit: "", Fill: FillInterpolate},
	{Name: "battery_voltage_v", Unit: "V", Fill: FillForward},
	{Name: "battery_pct", Unit: "%", Fill: FillForward},
	{Name: "signal_strength_dbm", Unit: "dBm", Fill: FillForward},
	{Name: "sensor_status", Unit: "", Fill: FillForward},
}

var byName = make(map[string]FieldSpec, len(Known))

func init() {
	for _, f := range Known {
		byName[f.Name] = f
	}
}

// interpolateHints and forwardHints classify passthrough fields the
// vocabulary does not know. A name containing an interpolate hint reads as a
// continuous quantity, a forward hint as device state.
var (
	interpolateHints = []string{"temp", "hum", "press", "wind", "rain"}
	forwardHints     = []string{"bat", "status", "sensor"}
)

// Lookup returns the spec for a field name. Unknown names get a spec with a
// fill policy guessed from the name and an empty unit.
func Lookup(name string) FieldSpec {
	if spec, ok := byName[name]; ok {
		return spec
	}
	return FieldSpec{Name: name, Fill: guessFill(name)}
}

func IsKnown(name string) bool {
	_, ok := byName[name]
	return ok
}

// Index returns the position of a known field in the canonical column order,
// or len(Known) for passthrough fields so they sort after every known one.
func Index(name string) int {
	for i, f := range Known {
		if f.Name == name {
			return i
		}
	}
	return len(Known)
}

func guessFill(name string) FillPolicy {
	lower := strings.ToLower(name)
	for _, hint := range interpolateHints {
		if strings.Contains(lower, hint) {
			return FillInterpolate
		}
	}
	for _, hint := range forwardHints {
		if strings.Contains(lower, hint) {
			return FillForward
		}
	}
	return FillNone
}
