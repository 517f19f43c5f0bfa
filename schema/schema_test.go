package schema

import "testing"

func TestLookupKnownField(t *testing.T) {
	spec := Lookup("temperature_c")
	if spec.Fill != FillInterpolate {
		t.Errorf("temperature_c fill got %v, wanted FillInterpolate", spec.Fill)
	}
	if spec.Unit != "°C" {
		t.Errorf("temperature_c unit got %q, wanted °C", spec.Unit)
	}

	spec = Lookup("battery_voltage_v")
	if spec.Fill != FillForward {
		t.Errorf("battery_voltage_v fill got %v, wanted FillForward", spec.Fill)
	}
}

func TestLookupPassthroughField(t *testing.T) {
	tests := []struct {
		name string
		want FillPolicy
	}{
		{"raw_soil_temp", FillInterpolate},
		{"raw_leaf_wetness_hum", FillInterpolate},
		{"raw_wind_chill", FillInterpolate},
		{"raw_rain_event", FillInterpolate},
		{"raw_batt2", FillForward},
		{"raw_sensor_co2", FillForward},
		{"raw_gw_status", FillForward},
		{"raw_f_cnt", FillNone},
		{"raw_lightning_num", FillNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lookup(tt.name).Fill
			if got != tt.want {
				t.Errorf("Lookup(%q).Fill got %v, wanted %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestIndexOrdersKnownBeforePassthrough(t *testing.T) {
	if Index("temperature_c") != 0 {
		t.Errorf("temperature_c index got %d, wanted 0", Index("temperature_c"))
	}
	if Index("humidity_pct") >= Index("battery_voltage_v") {
		t.Errorf("humidity_pct should order before battery_voltage_v")
	}
	if Index("raw_f_cnt") != len(Known) {
		t.Errorf("passthrough index got %d, wanted %d", Index("raw_f_cnt"), len(Known))
	}
}
