package proxy

import "encoding/json"

// Transport.Call decodes wire content generically (json.Unmarshal into
// any), so replies arrive as map[string]interface{}/[]interface{} values.
// These helpers round-trip that generic value through the typed reply
// structs, which keeps Transport itself free of any proxy-specific shape.

func roundTrip(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func decodeInitResult(raw any) (InitResult, error) {
	var out InitResult
	err := roundTrip(raw, &out)
	return out, err
}

func decodeEntities(raw any) ([]EntityDescriptor, error) {
	var out CreateResult
	if err := roundTrip(raw, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func decodeGetData(raw any) (GetDataResult, error) {
	var out GetDataResult
	err := roundTrip(raw, &out)
	return out, err
}

// decodeStepReply parses a step() reply, distinguishing the §4.2 "no
// self-schedule" case (a JSON null, or an object with next_step omitted or
// null) from an actual next_step time. Go's encoding/json leaves a non-
// pointer target untouched on a null payload rather than erroring, so this
// check must happen before any attempt to decode raw as a bare integer —
// otherwise a legitimate "no self-schedule" reply silently becomes 0.
func decodeStepReply(raw any) (next int64, hasNext bool, err error) {
	if raw == nil {
		return 0, false, nil
	}

	// step() replies with a bare integer on the wire, not an object; try
	// that first and fall back to the object shape some simulators may
	// use for symmetry with the other typed replies.
	var bare int64
	if err := roundTrip(raw, &bare); err == nil {
		return bare, true, nil
	}

	var out StepResult
	if err := roundTrip(raw, &out); err != nil {
		return 0, false, err
	}
	if out.NextStep == nil {
		return 0, false, nil
	}
	return *out.NextStep, true, nil
}
