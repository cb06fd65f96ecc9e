package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/metrics"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/normalize"
)

// FileTailSource polls log files for appended lines. Truncation resets the
// read offset to the start of the file.
type FileTailSource struct {
	cfgs   *config.Manager
	out    chan<- model.Event
	logger *slog.Logger

	pollInterval time.Duration
}

func NewFileTailSource(cfgs *config.Manager, out chan<- model.Event, logger *slog.Logger) *FileTailSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTailSource{cfgs: cfgs, out: out, logger: logger, pollInterval: time.Second}
}

func (s *FileTailSource) Run(ctx context.Context) error {
	cfg := s.cfgs.Get().Ingest.FileTail
	for _, path := range cfg.Files {
		go s.tail(ctx, path, cfg.StartAtEnd)
	}
	<-ctx.Done()
	return nil
}

func (s *FileTailSource) tail(ctx context.Context, path string, startAtEnd bool) {
	s.logger.Info("tailing file", "path", path)
	parser := NewParser()
	var offset int64 = -1
	for {
		if !BackoffSleep(ctx, s.pollInterval) {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if offset < 0 {
			if startAtEnd {
				offset = info.Size()
			} else {
				offset = 0
			}
		}
		if info.Size() < offset {
			// File was truncated or rotated in place.
			offset = 0
		}
		if info.Size() == offset {
			continue
		}
		read, err := s.readFrom(ctx, parser, path, offset)
		if err != nil {
			s.logger.Warn("tail read failed", "path", path, "error", err)
			continue
		}
		offset = read
	}
}

func (s *FileTailSource) readFrom(ctx context.Context, parser *Parser, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	reader := bufio.NewReader(f)
	pos := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial line without newline stays in the file for
			// the next poll.
			return pos, nil
		}
		pos += int64(len(line))
		s.ingestLine(ctx, parser, line)
	}
}

func (s *FileTailSource) ingestLine(ctx context.Context, parser *Parser, line string) {
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
	ev.Source = "file_tail"
	SendNonBlocking(ctx, s.out, ev, s.logger)
}
