package agents

import (
	"encoding/json"
	"strings"
)

// ParseDecision turns raw supervisor output into one capability or Finish.
// Fallback chain:
//  1. a JSON object {"next_agent": X}, possibly wrapped in prose or fences,
//     whose X names a specialist or FINISH;
//  2. the substring "FINISH" anywhere in raw;
//  3. the first specialist name found as a substring, in Capabilities order;
//  4. Finish.
//
// It never fails.
func ParseDecision(raw string) Capability {
	if c, ok := parseStructured(raw); ok {
		return c
	}
	if strings.Contains(raw, string(Finish)) {
		return Finish
	}
	for _, c := range Capabilities {
		if strings.Contains(raw, string(c)) {
			return c
		}
	}
	return Finish
}

func parseStructured(raw string) (Capability, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}

	var d struct {
		NextAgent any `json:"next_agent"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return "", false
	}
	name, ok := d.NextAgent.(string)
	if !ok {
		return "", false
	}
	return ParseCapability(name)
}
