package ingest

import "testing"

func TestParseJSONLine(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":"2026-03-01T12:00:00Z","ip":"10.0.0.5","user":"admin","event":"login","result":"failed"}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SourceIP != "10.0.0.5" || fields.Username != "admin" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.EventType != "login" || fields.Status != "failed" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
}

func TestParseSSHAuthLine(t *testing.T) {
	p := NewParser()
	line := "Mar  1 12:00:00 bastion sshd[4242]: Failed password for invalid user admin from 203.0.113.9 port 51234 ssh2"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SourceIP != "203.0.113.9" || fields.Username != "admin" {
		t.Fatalf("ssh parse mismatch: %+v", fields)
	}
	if fields.EventType != "login" || fields.Status != "failed" {
		t.Fatalf("ssh parse mismatch: %+v", fields)
	}
	if fields.Timestamp == "" {
		t.Fatalf("ssh timestamp missing")
	}
}

func TestParseSSHAccepted(t *testing.T) {
	p := NewParser()
	line := "Mar  1 12:00:05 bastion sshd[4242]: Accepted publickey for deploy from 10.1.2.3 port 2200 ssh2"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Status != "success" || fields.Username != "deploy" {
		t.Fatalf("ssh accepted mismatch: %+v", fields)
	}
}

func TestParseSimpleLine(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-03-01T12:00:00Z 10.0.0.5 admin login failed")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SourceIP != "10.0.0.5" || fields.EventType != "login" || fields.Status != "failed" {
		t.Fatalf("simple parse mismatch: %+v", fields)
	}
}

func TestParseKVLine(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("time=2026-03-01T12:00:00Z src_ip=10.0.0.5 user=admin event=login result=denied country=RU")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SourceIP != "10.0.0.5" || fields.CountryCode != "RU" {
		t.Fatalf("kv parse mismatch: %+v", fields)
	}
	if fields.Status != "denied" {
		t.Fatalf("kv status: %q", fields.Status)
	}
}

func TestParseCSVWithHeader(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,source_ip,username,event_type,status"); fields != nil {
		t.Fatalf("header line should yield no event")
	}
	fields, err := p.ParseLine("2026-03-01T12:00:00Z,10.0.0.5,admin,login,failed")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.SourceIP != "10.0.0.5" || fields.Username != "admin" || fields.Status != "failed" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseBlankAndNoise(t *testing.T) {
	p := NewParser()
	if fields, err := p.ParseLine("   "); fields != nil || err != nil {
		t.Fatalf("blank line should be skipped")
	}
	if fields, _ := p.ParseLine("completely unstructured noise"); fields != nil {
		t.Fatalf("noise without ip or user should be skipped")
	}
}

func TestParseJSONMapKeyAliases(t *testing.T) {
	fields := ParseJSONMap(map[string]interface{}{
		"ts":      "2026-03-01T12:00:00Z",
		"client":  "10.0.0.5",
		"account": "admin",
		"type":    "login",
		"outcome": "failed",
		"id":      "ev-1",
	})
	if fields.Timestamp == "" || fields.SourceIP != "10.0.0.5" || fields.Username != "admin" {
		t.Fatalf("alias mapping: %+v", fields)
	}
	if fields.EventID != "ev-1" {
		t.Fatalf("event id: %q", fields.EventID)
	}
}
