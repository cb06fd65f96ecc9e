package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"sentinelwatch/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts")
	fields.SourceIP = firstNonEmpty(fields.Extras, "source_ip", "src_ip", "ip", "client")
	fields.Username = firstNonEmpty(fields.Extras, "username", "user", "account")
	fields.EventType = firstNonEmpty(fields.Extras, "event_type", "event", "type")
	fields.Status = firstNonEmpty(fields.Extras, "status", "result", "outcome")
	fields.CountryCode = firstNonEmpty(fields.Extras, "country_code", "country")
	fields.EventID = firstNonEmpty(fields.Extras, "event_id", "id")
	return fields
}

func parseJSON(line string) (*normalize.EventFields, error) {
	return ParseJSONBytes([]byte(line))
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{")
}
