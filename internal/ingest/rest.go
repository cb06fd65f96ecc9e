package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/metrics"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/normalize"
)

// RESTSource accepts structured events over HTTP. POST /logs takes a single
// JSON object or an array of objects; POST /logs/upload takes a multipart
// file of raw log lines and runs each through the line parser.
type RESTSource struct {
	cfgs   *config.Manager
	out    chan<- model.Event
	logger *slog.Logger
}

func NewRESTSource(cfgs *config.Manager, out chan<- model.Event, logger *slog.Logger) *RESTSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTSource{cfgs: cfgs, out: out, logger: logger}
}

func (s *RESTSource) Run(ctx context.Context) error {
	cfg := s.cfgs.Get()
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", s.handleLogs(ctx))
	mux.HandleFunc("/logs/upload", s.handleUpload(ctx))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:         cfg.Ingest.REST.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rest ingest listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *RESTSource) handleLogs(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		var batch []map[string]interface{}
		if err := json.Unmarshal(body, &batch); err != nil {
			var single map[string]interface{}
			if err := json.Unmarshal(body, &single); err != nil {
				http.Error(w, "invalid JSON payload", http.StatusBadRequest)
				return
			}
			batch = []map[string]interface{}{single}
		}

		cfg := s.cfgs.Get()
		accepted, rejected := 0, 0
		for _, obj := range batch {
			fields := ParseJSONMap(obj)
			ev, err := normalize.Normalize(*fields, cfg)
			if err != nil {
				rejected++
				metrics.EventsRejected.Inc()
				continue
			}
			ev.Source = "rest"
			if SendNonBlocking(ctx, s.out, ev, s.logger) {
				accepted++
			} else {
				rejected++
			}
		}
		writeIngestResult(w, accepted, rejected)
	}
}

func (s *RESTSource) handleUpload(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "parse multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()

		cfg := s.cfgs.Get()
		parser := NewParser()
		accepted, rejected := 0, 0
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			fields, err := parser.ParseLine(scanner.Text())
			if err != nil || fields == nil {
				if err != nil {
					rejected++
					metrics.EventsRejected.Inc()
				}
				continue
			}
			ev, err := normalize.Normalize(*fields, cfg)
			if err != nil {
				rejected++
				metrics.EventsRejected.Inc()
				continue
			}
			ev.Source = "rest"
			if SendNonBlocking(ctx, s.out, ev, s.logger) {
				accepted++
			} else {
				rejected++
			}
		}
		if err := scanner.Err(); err != nil {
			http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
			return
		}
		writeIngestResult(w, accepted, rejected)
	}
}

func writeIngestResult(w http.ResponseWriter, accepted, rejected int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"rejected": rejected,
	})
}
