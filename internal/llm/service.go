package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-lessons/internal/bus"
	"github.com/loqalabs/loqa-lessons/internal/protocol"
)

// Service answers completion requests from the bus so other nodes can
// share one model backend and its rate limit.
type Service struct {
	bus       *bus.Client
	completer Completer
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, completer Completer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		completer: completer,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectLLMComplete, "llm-workers", s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe llm requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.CompletionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode llm request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		resp := protocol.CompletionResponse{RequestID: req.RequestID}
		text, err := s.completer.Complete(s.ctx, req.Prompt)
		if err != nil {
			s.logger.Warn("llm completion failed", slog.String("request_id", req.RequestID), slogError(err))
			resp.Error = err.Error()
		} else {
			resp.Content = text
		}
		resp.LatencyMS = time.Since(start).Milliseconds()
		resp.Timestamp = time.Now().UTC()

		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to marshal llm response", slogError(err))
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to reply to llm request", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
