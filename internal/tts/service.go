package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-lessons/internal/bus"
	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/protocol"
)

// Service answers narration requests from the bus with cached clips.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	cache  *Cache
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, cache *Cache, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
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

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		result := protocol.TTSResult{RequestID: req.RequestID, LessonID: req.LessonID}
		voice := req.Voice
		if voice == "" {
			voice = s.cache.DefaultVoice()
		}
		clip, err := s.cache.Generate(ctx, req.LessonID, req.Text, voice)
		if err != nil {
			s.logger.Warn("tts synthesis error", slog.String("lesson_id", req.LessonID), slogError(err))
			result.Error = err.Error()
		} else {
			result.AudioID = clip.ID
			result.AudioURL = clip.URL
			result.Duration = clip.Duration
			result.Cached = clip.Cached
		}
		result.Timestamp = time.Now().UTC()
		s.publishResult(msg, result)
	}()
}

func (s *Service) publishResult(msg *nats.Msg, result protocol.TTSResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal tts result", slogError(err))
		return
	}
	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to reply to tts request", slogError(err))
		}
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSDone, data); err != nil {
		s.logger.Warn("failed to publish tts result", slogError(err))
	}
}
