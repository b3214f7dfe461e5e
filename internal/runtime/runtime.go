// Package runtime assembles the lesson daemon: telemetry, the bus, the
// event store, the lesson pipeline and its HTTP surface.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-lessons/internal/assetstore"
	"github.com/loqalabs/loqa-lessons/internal/bus"
	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/eventstore"
	"github.com/loqalabs/loqa-lessons/internal/lesson"
	"github.com/loqalabs/loqa-lessons/internal/llm"
	"github.com/loqalabs/loqa-lessons/internal/natsserver"
	"github.com/loqalabs/loqa-lessons/internal/protocol"
	"github.com/loqalabs/loqa-lessons/internal/registry"
	"github.com/loqalabs/loqa-lessons/internal/tts"
)

const pruneInterval = time.Hour

type healthChecker interface {
	Healthy() bool
}

type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *Pipeline
	events   *eventstore.Store
	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	workers  *registry.Registry
	services []healthChecker
	closers  []func()
	ready    atomic.Bool
	wg       sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Start runs until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer r.shutdownTelemetry(tel)

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		return err
	}
	defer r.stopComponents()

	servers := []*http.Server{r.serve(fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port), r.routes(tel.metrics))}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && tel.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.metrics)
		servers = append(servers, r.serve(bind, mux))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", servers[0].Addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	pipeline, err := NewPipeline(r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.pipeline = pipeline

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.closers = append(r.closers, func() { _ = r.events.Close() })

	if !r.cfg.Bus.Enabled {
		r.logger.Warn("bus disabled, lesson service not started")
		return nil
	}
	busCfg := r.cfg.Bus
	r.nats, err = natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	if r.nats != nil {
		busCfg.Servers = []string{r.nats.ClientURL()}
		r.closers = append(r.closers, r.nats.Shutdown)
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, r.bus.Close)

	var uploader lesson.Uploader
	if r.cfg.Assets.Enabled {
		assets, err := assetstore.Open(r.bus.JetStream(), r.cfg.Assets.Bucket, r.logger)
		if err != nil {
			return err
		}
		uploader = assets
	}

	var recorder lesson.Recorder
	if r.events.Enabled() {
		recorder = r.events
	}
	lessonSvc := lesson.NewService(ctx, pipeline.Generator, r.bus, recorder, uploader, r.logger)
	if err := r.startService(lessonSvc, lessonSvc.Start, lessonSvc.Close); err != nil {
		return fmt.Errorf("start lesson service: %w", err)
	}
	llmSvc := llm.NewService(ctx, r.bus, pipeline.LLM, r.logger)
	if err := r.startService(llmSvc, llmSvc.Start, llmSvc.Close); err != nil {
		return fmt.Errorf("start llm service: %w", err)
	}
	services := []protocol.WorkerService{
		{Name: "lesson", Attributes: map[string]string{"templates": fmt.Sprint(pipeline.Catalog.Len())}},
		{Name: "llm", Attributes: map[string]string{"mode": r.cfg.LLM.Mode}},
	}
	if pipeline.Cache != nil {
		ttsSvc := tts.NewService(ctx, r.cfg.TTS, r.bus, pipeline.Cache, r.logger)
		if err := r.startService(ttsSvc, ttsSvc.Start, ttsSvc.Close); err != nil {
			return fmt.Errorf("start tts service: %w", err)
		}
		services = append(services, protocol.WorkerService{Name: "tts", Attributes: map[string]string{
			"mode":  r.cfg.TTS.Mode,
			"voice": r.cfg.TTS.Voice,
		}})
	}

	id := r.cfg.Worker.ID
	if id == "" {
		id = r.cfg.RuntimeName + "-" + uuid.NewString()[:8]
	}
	r.workers = registry.New(r.cfg.Worker, id, services, r.bus, r.logger)
	if err := r.workers.Start(ctx); err != nil {
		return err
	}
	r.closers = append(r.closers, r.workers.Close)
	return nil
}

func (r *Runtime) startService(svc healthChecker, start func() error, stop func()) error {
	if err := start(); err != nil {
		return err
	}
	r.services = append(r.services, svc)
	r.closers = append(r.closers, stop)
	return nil
}

// stopComponents closes in reverse start order.
func (r *Runtime) stopComponents() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
	if r.pipeline != nil && r.pipeline.Calibration != nil {
		if err := r.pipeline.Calibration.Save(); err != nil {
			r.logger.Warn("failed to save calibration", slogError(err))
		}
	}
}

func (r *Runtime) shutdownTelemetry(tel *telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}
}

func (r *Runtime) serve(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", addr), slogError(err))
		}
	}()
	return srv
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.events.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slogError(err))
			}
			if r.pipeline.Cache != nil {
				r.pipeline.Cache.Cleanup()
			}
		}
	}
}

func (r *Runtime) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	if metrics != nil && r.cfg.Telemetry.PrometheusBind == "" {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /api/lessons", r.handleListLessons)
	mux.HandleFunc("GET /api/lessons/{id}", r.handleGetLesson)
	mux.HandleFunc("GET /api/lessons/{id}/events", r.handleLessonEvents)
	mux.HandleFunc("GET /api/workers", r.handleWorkers)
	// Audio is only served here when its public URL is a local path.
	if base, ok := localPath(r.cfg.TTS.BaseURL); ok && r.pipeline != nil && r.pipeline.Cache != nil {
		mux.HandleFunc("GET "+base+"/{id}", r.handleClip)
	}
	if base, ok := localPath(r.cfg.Audio.PublicBaseURL); ok {
		mux.HandleFunc("GET "+base+"/{file}", r.handleLessonAudio)
	}
	return mux
}

func localPath(url string) (string, bool) {
	base := strings.TrimRight(url, "/")
	return base, strings.HasPrefix(base, "/")
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	if r.bus != nil && !r.bus.Healthy() {
		http.Error(w, "bus disconnected", http.StatusServiceUnavailable)
		return
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			http.Error(w, "service unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (r *Runtime) handleListLessons(w http.ResponseWriter, req *http.Request) {
	lessons, err := r.events.ListLessons(req.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type summary struct {
		ID         string    `json:"id"`
		Topic      string    `json:"topic"`
		Difficulty string    `json:"difficulty_level"`
		Status     string    `json:"status"`
		Success    bool      `json:"success"`
		AudioURL   string    `json:"audio_url,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}
	out := make([]summary, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, summary{l.ID, l.Topic, l.Difficulty, l.Status, l.Success, l.AudioURL, l.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleGetLesson(w http.ResponseWriter, req *http.Request) {
	l, err := r.events.GetLesson(req.Context(), req.PathValue("id"))
	if errors.Is(err, eventstore.ErrNotFound) {
		http.Error(w, "lesson not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(l.Result) == 0 {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": l.ID, "status": l.Status})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(l.Result)
}

func (r *Runtime) handleLessonEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.events.ListEvents(req.Context(), req.PathValue("id"), 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		out = append(out, e.Payload)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	if r.workers == nil {
		writeJSON(w, http.StatusOK, []registry.Worker{})
		return
	}
	writeJSON(w, http.StatusOK, r.workers.Workers())
}

func (r *Runtime) handleClip(w http.ResponseWriter, req *http.Request) {
	clip, err := r.pipeline.Cache.Lookup(req.PathValue("id"))
	if err != nil {
		http.Error(w, "audio not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, req, clip.Path)
}

func (r *Runtime) handleLessonAudio(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("file")
	if name != filepath.Base(name) || !strings.HasPrefix(name, "lesson-") {
		http.Error(w, "audio not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, req, filepath.Join(r.cfg.Audio.OutputDir, name))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
