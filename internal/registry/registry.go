// Package registry tracks the lesson workers sharing a bus. Each worker
// heartbeats the services it runs; peers that miss heartbeats are marked
// unhealthy.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-lessons/internal/bus"
	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/protocol"
)

type Worker struct {
	ID       string                   `json:"id"`
	Services []protocol.WorkerService `json:"services"`
	LastSeen time.Time                `json:"last_seen"`
	Healthy  bool                     `json:"healthy"`
}

type Registry struct {
	id       string
	services []protocol.WorkerService
	interval time.Duration
	timeout  time.Duration
	bus      *bus.Client
	log      *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	workers map[string]*Worker
	sub     *nats.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg config.WorkerConfig, id string, services []protocol.WorkerService, busClient *bus.Client, log *slog.Logger) *Registry {
	return &Registry{
		id:       SubjectToken(id),
		services: services,
		interval: time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond,
		timeout:  time.Duration(cfg.HeartbeatTimeoutMS) * time.Millisecond,
		bus:      busClient,
		log:      log.With(slog.String("component", "worker-registry")),
		now:      time.Now,
		workers:  make(map[string]*Worker),
	}
}

// SubjectToken makes id usable as a single NATS subject token.
func SubjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '-'
		}
		return r
	}, id)
}

func (r *Registry) ID() string { return r.id }

// Start subscribes to peer heartbeats and announces this worker.
func (r *Registry) Start(ctx context.Context) error {
	sub, err := r.bus.Conn().Subscribe(protocol.SubjectWorkerPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe worker heartbeats: %w", err)
	}
	r.sub = sub
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	ctx, r.cancel = context.WithCancel(ctx)
	if err := r.publish(false); err != nil {
		r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
	}
	r.wg.Add(1)
	go r.loop(ctx)
	r.log.Info("worker registered", slog.String("worker_id", r.id), slog.Int("services", len(r.services)))
	return nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	if err := r.publish(true); err != nil {
		r.log.Debug("failed to publish leave", slog.String("error", err.Error()))
	}
}

// Healthy reports whether this worker's own heartbeats are arriving.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[r.id]
	return ok && w.Healthy
}

// Workers returns a snapshot ordered by id.
func (r *Registry) Workers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		cp.Services = append([]protocol.WorkerService(nil), w.Services...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publish(false); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.expire()
		}
	}
}

func (r *Registry) publish(leaving bool) error {
	return r.bus.PublishJSON(protocol.WorkerSubject(r.id), protocol.WorkerHeartbeat{
		WorkerID:  r.id,
		Services:  r.services,
		Leaving:   leaving,
		Timestamp: r.now().UTC(),
	})
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.WorkerID == "" {
		r.log.Warn("invalid worker heartbeat", slog.String("subject", msg.Subject))
		return
	}
	r.observe(hb)
}

func (r *Registry) observe(hb protocol.WorkerHeartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hb.Leaving {
		delete(r.workers, hb.WorkerID)
		r.log.Info("worker left", slog.String("worker_id", hb.WorkerID))
		return
	}
	w, ok := r.workers[hb.WorkerID]
	if !ok {
		w = &Worker{ID: hb.WorkerID}
		r.workers[hb.WorkerID] = w
		if hb.WorkerID != r.id {
			r.log.Info("worker joined", slog.String("worker_id", hb.WorkerID))
		}
	}
	if len(hb.Services) > 0 {
		w.Services = hb.Services
	}
	// Local receipt time keeps expiry independent of peer clocks.
	w.LastSeen = r.now()
	w.Healthy = true
}

// expire marks workers unhealthy once their heartbeat is older than the
// timeout.
func (r *Registry) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, w := range r.workers {
		if w.Healthy && now.Sub(w.LastSeen) > r.timeout {
			w.Healthy = false
			r.log.Warn("worker heartbeat missed", slog.String("worker_id", w.ID))
		}
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-lessons/registry")
	gauge, err := meter.Int64ObservableGauge("loqa.workers.healthy", metric.WithDescription("Workers with a recent heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var n int64
		for _, w := range r.workers {
			if w.Healthy {
				n++
			}
		}
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}
