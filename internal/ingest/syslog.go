package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/metrics"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/normalize"
)

// SyslogSource listens for log lines over UDP and TCP. Each datagram or
// newline-delimited TCP line goes through the shared line parser.
type SyslogSource struct {
	cfgs   *config.Manager
	out    chan<- model.Event
	logger *slog.Logger
}

func NewSyslogSource(cfgs *config.Manager, out chan<- model.Event, logger *slog.Logger) *SyslogSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyslogSource{cfgs: cfgs, out: out, logger: logger}
}

func (s *SyslogSource) Run(ctx context.Context) error {
	cfg := s.cfgs.Get().Ingest.Syslog
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	if cfg.UDPAddr != "" {
		go s.runUDP(ctx, cfg.UDPAddr)
	}
	if cfg.TCPAddr != "" {
		go s.runTCP(ctx, cfg.TCPAddr)
	}
	<-done
	return nil
}

func (s *SyslogSource) runUDP(ctx context.Context, addr string) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		s.logger.Error("syslog udp listen failed", "addr", addr, "error", err)
		return
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.logger.Info("syslog udp listening", "addr", addr)
	parser := NewParser()
	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("syslog udp read failed", "error", err)
			continue
		}
		s.ingestLine(ctx, parser, string(buf[:n]))
	}
}

func (s *SyslogSource) runTCP(ctx context.Context, addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("syslog tcp listen failed", "addr", addr, "error", err)
		return
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("syslog tcp listening", "addr", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("syslog tcp accept failed", "error", err)
			if !BackoffSleep(ctx, 200*time.Millisecond) {
				return
			}
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *SyslogSource) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.ingestLine(ctx, parser, scanner.Text())
	}
}

func (s *SyslogSource) ingestLine(ctx context.Context, parser *Parser, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	fields, err := parser.ParseLine(line)
	if err != nil {
		metrics.EventsRejected.Inc()
		return
	}
	if fields == nil {
		return
	}
	ev, err := normalize.Normalize(*fields, s.cfgs.Get())
	if err != nil {
		metrics.EventsRejected.Inc()
		return
	}
	ev.Source = "syslog"
	SendNonBlocking(ctx, s.out, ev, s.logger)
}
