package ttn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/angas/meteolog-go/schema"
	"github.com/angas/meteolog-go/types"
)

// uplinkResult is the uplink envelope shared by the storage API (wrapped in
// a "result" object) and the MQTT integration (sent bare).
type uplinkResult struct {
	EndDeviceIDs struct {
		DeviceID string `json:"device_id"`
	} `json:"end_device_ids"`
	ReceivedAt    time.Time      `json:"received_at"`
	UplinkMessage *uplinkMessage `json:"uplink_message"`
}

type uplinkMessage struct {
	FCnt           int64          `json:"f_cnt"`
	DecodedPayload map[string]any `json:"decoded_payload"`
	RxMetadata     []struct {
		RSSI float64 `json:"rssi"`
	} `json:"rx_metadata"`
}

// DecodeUplink maps one uplink envelope into a canonical sample. The second
// return is false for payloads that are valid but not samples: uplinks from
// other devices than deviceID (empty matches any) and events without an
// uplink_message, such as keep-alives. Errors mark malformed payloads the
// caller should count as dropped.
func DecodeUplink(payload []byte, deviceID, station string) (types.RawSample, bool, error) {
	var sample types.RawSample

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return sample, false, fmt.Errorf("decoding envelope: %w", err)
	}
	body := payload
	if len(envelope.Result) > 0 {
		body = envelope.Result
	}

	var result uplinkResult
	if err := json.Unmarshal(body, &result); err != nil {
		return sample, false, fmt.Errorf("decoding uplink: %w", err)
	}

	if result.UplinkMessage == nil {
		return sample, false, nil
	}
	if deviceID != "" && result.EndDeviceIDs.DeviceID != deviceID {
		return sample, false, nil
	}
	if result.ReceivedAt.IsZero() {
		return sample, false, errors.New("uplink without received_at")
	}

	fields := make(map[string]float64, len(result.UplinkMessage.DecodedPayload)+2)
	for name, value := range result.UplinkMessage.DecodedPayload {
		v, ok := numeric(value)
		if !ok {
			continue
		}
		if schema.IsKnown(name) {
			fields[name] = v
		} else {
			fields["raw_"+name] = v
		}
	}
	if len(fields) == 0 && len(result.UplinkMessage.DecodedPayload) > 0 {
		return sample, false, errors.New("no usable field in decoded payload")
	}
	if len(result.UplinkMessage.RxMetadata) > 0 {
		fields["signal_strength_dbm"] = result.UplinkMessage.RxMetadata[0].RSSI
	}
	fields["raw_f_cnt"] = float64(result.UplinkMessage.FCnt)

	sample = types.RawSample{
		Timestamp: result.ReceivedAt.UTC(),
		Station:   station,
		Fields:    fields,
	}
	return sample, true, nil
}

// numeric coerces the JSON payload value types sensor formatters emit.
// Booleans become 0/1, numeric strings are parsed, the rest is skipped.
func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
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
