package lesson

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-lessons/internal/bus"
	"github.com/loqalabs/loqa-lessons/internal/eventstore"
	"github.com/loqalabs/loqa-lessons/internal/protocol"
	"github.com/loqalabs/loqa-lessons/internal/templates"
)

// Recorder persists lessons and their progress.
type Recorder interface {
	SaveLesson(ctx context.Context, l eventstore.Lesson) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Uploader copies merged audio to shared storage.
type Uploader interface {
	PutFile(ctx context.Context, path string, meta map[string]string) (string, error)
}

// Service serves lesson generation over the bus.
type Service struct {
	gen      *Generator
	bus      *bus.Client
	recorder Recorder
	uploader Uploader
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewService wires the generator to the bus. recorder and uploader may be
// nil.
func NewService(parent context.Context, gen *Generator, busClient *bus.Client, recorder Recorder, uploader Uploader, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		gen:      gen,
		bus:      busClient,
		recorder: recorder,
		uploader: uploader,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "lesson-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectLessonGenerate, "lesson-workers", s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("lesson service listening", slog.String("subject", protocol.SubjectLessonGenerate))
	return nil
}

// Close stops accepting requests and cancels lessons in progress.
func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var wire protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		s.logger.Warn("failed to decode lesson request", slogError(err))
		s.reply(msg, protocol.GenerateAccepted{Error: "invalid request payload"})
		return
	}
	req := fromWire(wire)
	if req.LessonID == "" {
		req.LessonID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		s.reply(msg, protocol.GenerateAccepted{LessonID: req.LessonID, Error: err.Error()})
		return
	}
	s.reply(msg, protocol.GenerateAccepted{LessonID: req.LessonID})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(req)
	}()
}

func (s *Service) run(req Request) {
	log := s.logger.With(slog.String("lesson_id", req.LessonID))
	s.record(eventstore.Lesson{
		ID:             req.LessonID,
		Topic:          req.Topic,
		Difficulty:     req.Difficulty,
		TargetDuration: req.TargetDuration,
		Status:         string(StagePlanning),
	}, log)

	for ev := range s.gen.Generate(s.ctx, req) {
		if ev.Stage == StageDone && ev.Lesson != nil {
			s.upload(ev.Lesson, log)
		}
		s.appendEvent(ev, log)
		if err := s.bus.PublishJSON(protocol.ProgressSubject(req.LessonID), progressView(ev)); err != nil {
			log.Warn("failed to publish progress", slogError(err))
		}
		if !ev.Terminal() {
			continue
		}
		s.finish(req, ev, log)
	}
}

func (s *Service) finish(req Request, ev Event, log *slog.Logger) {
	row := eventstore.Lesson{
		ID:             req.LessonID,
		Topic:          req.Topic,
		Difficulty:     req.Difficulty,
		TargetDuration: req.TargetDuration,
		Status:         string(ev.Stage),
	}
	var result any = ev
	if ev.Lesson != nil {
		result = ev.Lesson
		row.Success = ev.Lesson.Success
		row.AudioURL = ev.Lesson.AudioURL
		if data, err := json.Marshal(ev.Lesson); err == nil {
			row.Result = data
		}
	}
	s.record(row, log)
	if err := s.bus.PublishJSON(protocol.ResultSubject(req.LessonID), result); err != nil {
		log.Warn("failed to publish lesson result", slogError(err))
	}
}

func (s *Service) upload(l *Lesson, log *slog.Logger) {
	if s.uploader == nil || !l.AudioGenerated || l.AudioPath == "" {
		return
	}
	if _, err := s.uploader.PutFile(s.ctx, l.AudioPath, map[string]string{"lesson_id": l.ID, "topic": l.Topic}); err != nil {
		log.Warn("failed to upload lesson audio", slogError(err))
	}
}

func (s *Service) record(row eventstore.Lesson, log *slog.Logger) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveLesson(s.ctx, row); err != nil {
		log.Warn("failed to save lesson", slogError(err))
	}
}

func (s *Service) appendEvent(ev Event, log *slog.Logger) {
	if s.recorder == nil {
		return
	}
	payload, err := json.Marshal(progressView(ev))
	if err != nil {
		log.Warn("failed to marshal event", slogError(err))
		return
	}
	err = s.recorder.AppendEvent(s.ctx, eventstore.Event{
		LessonID:  ev.LessonID,
		Stage:     string(ev.Stage),
		Message:   ev.Message,
		Progress:  ev.Progress,
		Payload:   payload,
		CreatedAt: ev.Timestamp,
	})
	if err != nil {
		log.Warn("failed to record event", slogError(err))
	}
}

func (s *Service) reply(msg *nats.Msg, v protocol.GenerateAccepted) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to lesson request", slogError(err))
	}
}

// progressView drops the finished lesson from an event; it travels on the
// result subject instead.
func progressView(ev Event) Event {
	ev.Lesson = nil
	return ev
}

func fromWire(w protocol.GenerateRequest) Request {
	req := Request{
		LessonID:       w.LessonID,
		Topic:          w.Topic,
		Difficulty:     w.DifficultyLevel,
		TargetDuration: w.TargetDuration,
		Voice:          w.Voice,
	}
	if w.ContainerSize != nil {
		req.Container = &templates.ContainerSize{Width: w.ContainerSize.Width, Height: w.ContainerSize.Height}
	}
	return req
}
