package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"sentinelwatch/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
	reIPv4      = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

	// sshd auth lines: "Failed password for invalid user admin from 10.0.0.5 port 22"
	reSSHAuth = regexp.MustCompile(`(Accepted|Failed)\s+\S+\s+for\s+(?:invalid user\s+)?(\S+)\s+from\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)

	// simple format: "timestamp ip username event status"
	reSimple = regexp.MustCompile(`^([\d\-:T.Z+]+)\s+(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\s+(\S+)\s+(\w+)\s+(\w+)`)
)

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine normalizes one raw log line into event fields. Supported
// shapes: JSON objects, sshd auth lines, the simple
// "timestamp ip user event status" layout, key=value pairs, and CSV with a
// header row. Returns (nil, nil) for lines that carry no event.
func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if fields := parseSSHAuth(trim); fields != nil {
		fields.Raw = line
		return fields, nil
	}
	if fields := parseSimple(trim); fields != nil {
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parseKV(trim)
	if fields == nil {
		return nil, nil
	}
	fields.Raw = line
	return fields, nil
}

func parseSSHAuth(line string) *normalize.EventFields {
	m := reSSHAuth.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	fields := &normalize.EventFields{
		EventType: "login",
		Username:  m[2],
		SourceIP:  m[3],
		Extras:    map[string]string{},
	}
	if m[1] == "Accepted" {
		fields.Status = "success"
	} else {
		fields.Status = "failed"
	}
	if ts := reSyslogTS.FindString(line); ts != "" {
		fields.Timestamp = strings.TrimSpace(ts)
	}
	return fields
}

func parseSimple(line string) *normalize.EventFields {
	m := reSimple.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &normalize.EventFields{
		Timestamp: m[1],
		SourceIP:  m[2],
		Username:  m[3],
		EventType: m[4],
		Status:    m[5],
		Extras:    map[string]string{},
	}
}

func parseKV(line string) *normalize.EventFields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields := &normalize.EventFields{Extras: kv}
	fields.Timestamp = firstNonEmpty(kv, "timestamp", "time", "ts")
	fields.SourceIP = firstNonEmpty(kv, "source_ip", "src_ip", "ip", "client")
	fields.Username = firstNonEmpty(kv, "username", "user", "account")
	fields.EventType = firstNonEmpty(kv, "event_type", "event", "type")
	fields.Status = firstNonEmpty(kv, "status", "result", "outcome")
	fields.CountryCode = firstNonEmpty(kv, "country_code", "country")
	fields.EventID = firstNonEmpty(kv, "event_id", "id")

	if fields.Timestamp == "" {
		if ts, _ := extractTimestamp(line); ts != "" {
			fields.Timestamp = ts
		}
	}
	if fields.SourceIP == "" {
		if m := reIPv4.FindString(line); m != "" {
			fields.SourceIP = m
		}
	}
	if fields.SourceIP == "" && fields.Username == "" {
		return nil
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
	}
	m = reSyslogTS.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{Extras: map[string]string{}}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
	} else {
		if len(record) >= 1 {
			fields.Timestamp = record[0]
		}
		if len(record) >= 2 {
			fields.SourceIP = record[1]
		}
		if len(record) >= 3 {
			fields.Username = record[2]
		}
		if len(record) >= 4 {
			fields.EventType = record[3]
		}
		if len(record) >= 5 {
			fields.Status = record[4]
		}
		if len(record) >= 6 {
			fields.CountryCode = record[5]
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "source_ip", "ip", "username", "user", "event_type", "status", "country_code":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.EventFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "source_ip", "src_ip", "ip", "client":
		fields.SourceIP = value
	case "username", "user", "account":
		fields.Username = value
	case "event_type", "event", "type":
		fields.EventType = value
	case "status", "result", "outcome":
		fields.Status = value
	case "country_code", "country":
		fields.CountryCode = value
	case "event_id", "id":
		fields.EventID = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}
