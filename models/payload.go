package models

import "encoding/json"

// DecodePayload parses a stored submission. Payloads that were JSON-encoded
// twice (a JSON string holding a JSON object) are unwrapped. The second
// result is false when the payload is not an object.
func DecodePayload(raw string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, false
		}
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// PayloadView is the client-facing form of a stored submission:
// the decoded object, or {"raw_data": raw} when it cannot be decoded.
func PayloadView(raw string) map[string]any {
	if obj, ok := DecodePayload(raw); ok {
		return obj
	}
	return map[string]any{"raw_data": raw}
}
