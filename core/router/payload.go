package router

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/devicestate"
	"github.com/kilianp07/smartdryer/core/model"
)

type heartbeatPayload struct {
	MotorState string `json:"motorState"`
}

type sensorPayload struct {
	Sensors []json.RawMessage `json:"sensors"`
}

type sensorEntry struct {
	Type  string      `json:"type"`
	Value model.Value `json:"value"`
	Unit  string      `json:"unit"`
	Meta  model.Value `json:"meta"`
}

type eventPayload struct {
	EventType string      `json:"eventType"`
	Message   string      `json:"message"`
	Payload   model.Value `json:"payload"`
	Severity  string      `json:"severity"`
}

type resultPayload struct {
	CommandID string      `json:"commandId"`
	Status    string      `json:"status"`
	Result    model.Value `json:"result"`
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return nil
}

// decodeHeartbeat ignores motor state hints the backend does not know.
func decodeHeartbeat(payload []byte) (devicestate.Heartbeat, error) {
	var p heartbeatPayload
	if err := decode(payload, &p); err != nil {
		return devicestate.Heartbeat{}, err
	}
	ms, _ := model.ParseMotorState(p.MotorState)
	return devicestate.Heartbeat{MotorState: ms}, nil
}

// decodeSensors keeps entries that fail to decode as Malformed readings so
// the rest of the report still lands.
func decodeSensors(payload []byte) ([]devicestate.RawReading, error) {
	var p sensorPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.Sensors == nil {
		return nil, fmt.Errorf("%w: sensors array missing", model.ErrDecode)
	}
	out := make([]devicestate.RawReading, 0, len(p.Sensors))
	for _, raw := range p.Sensors {
		var s sensorEntry
		if err := json.Unmarshal(raw, &s); err != nil {
			out = append(out, devicestate.RawReading{Malformed: err})
			continue
		}
		out = append(out, devicestate.RawReading{Type: s.Type, Value: s.Value, Unit: s.Unit, Meta: s.Meta})
	}
	return out, nil
}

func decodeEvent(payload []byte) (devicestate.DeviceEvent, error) {
	var p eventPayload
	if err := decode(payload, &p); err != nil {
		return devicestate.DeviceEvent{}, err
	}
	return devicestate.DeviceEvent{Type: p.EventType, Message: p.Message, Payload: p.Payload, Severity: p.Severity}, nil
}

func decodeResult(payload []byte) (command.Result, error) {
	var p resultPayload
	if err := decode(payload, &p); err != nil {
		return command.Result{}, err
	}
	return command.Result{CommandID: p.CommandID, Status: p.Status, Result: p.Result}, nil
}
