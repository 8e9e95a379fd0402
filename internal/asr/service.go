package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-asr/internal/bus"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Trainer rebuilds the recognition model for a new intent graph.
type Trainer interface {
	Train(ctx context.Context, req protocol.Train) (protocol.TrainSuccess, error)
}

// Pronouncer looks up or guesses pronunciations.
type Pronouncer interface {
	Pronounce(ctx context.Context, req protocol.Pronounce) (protocol.Phonemes, error)
}

// Publisher delivers outbound events to one transport or sink.
type Publisher interface {
	Publish(ctx context.Context, evt protocol.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt protocol.Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt protocol.Event) error { return f(ctx, evt) }

// Service connects the Manager to the bus: it decodes inbound messages,
// applies the site filter and the enable toggle, and fans events out to every
// publisher.
type Service struct {
	cfg        config.ASRConfig
	bus        *bus.Client
	log        *slog.Logger
	manager    *Manager
	trainer    Trainer
	pronouncer Pronouncer
	publishers []Publisher
	sites      map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  atomic.Bool

	mu       sync.Mutex
	enabled  bool
	disabled map[protocol.ToggleReason]struct{}
}

// NewService builds the service and its manager. busClient may be nil when
// the service is driven through Dispatch only.
func NewService(parent context.Context, cfg config.ASRConfig, busClient *bus.Client, opts Options) (*Service, error) {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		log:      opts.Logger.With(slog.String("component", "asr-service")),
		ctx:      ctx,
		cancel:   cancel,
		enabled:  cfg.Enabled,
		disabled: make(map[protocol.ToggleReason]struct{}),
	}
	if len(cfg.SiteIDs) > 0 {
		s.sites = make(map[string]struct{}, len(cfg.SiteIDs))
		for _, id := range cfg.SiteIDs {
			s.sites[id] = struct{}{}
		}
	}
	if busClient != nil {
		s.publishers = append(s.publishers, natsPublisher{client: busClient})
	}

	opts.Emit = s.emit
	manager, err := NewManager(ctx, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	s.manager = manager
	return s, nil
}

// SetTrainer enables asr.train handling. Call before Start.
func (s *Service) SetTrainer(t Trainer) { s.trainer = t }

// SetPronouncer enables g2p.pronounce handling. Call before Start.
func (s *Service) SetPronouncer(p Pronouncer) { s.pronouncer = p }

// AddPublisher registers an additional event sink. Call before Start.
func (s *Service) AddPublisher(p Publisher) { s.publishers = append(s.publishers, p) }

// Manager exposes the session manager for read-only inspection.
func (s *Service) Manager() *Manager { return s.manager }

func (s *Service) Start() error {
	if s.bus == nil {
		return errors.New("asr service requires a bus connection")
	}
	// One channel for every subject keeps control messages and frames in
	// the order the connection received them.
	msgs := make(chan *nats.Msg, inboundBuffer)
	for _, subject := range inboundSubjects {
		sub, err := s.bus.Conn().ChanSubscribe(subject, msgs)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.wg.Add(1)
	go s.loop(msgs)

	s.ready.Store(true)
	s.log.Info("asr service started",
		slog.Bool("enabled", s.cfg.Enabled),
		slog.Any("site_ids", s.cfg.SiteIDs),
		slog.Bool("reuse_transcribers", s.cfg.ReuseTranscribers),
	)
	return nil
}

// Close stops intake, then shuts the manager down within ctx.
func (s *Service) Close(ctx context.Context) error {
	s.unsubscribe()
	s.ready.Store(false)
	s.cancel()
	err := s.manager.Close(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("wait for asr handlers: %w", ctx.Err()))
	}
	return err
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return s.ready.Load()
}

// Enabled reports whether audio frames are currently processed.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Service) loop(msgs <-chan *nats.Msg) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-msgs:
			m, err := decodeMessage(msg.Subject, msg.Data)
			if err != nil {
				s.log.Warn("failed to decode message", slog.String("subject", msg.Subject), slogError(err))
				continue
			}
			s.Dispatch(s.ctx, m)
		}
	}
}

// background runs slow handlers off the dispatch loop.
func (s *Service) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Dispatch handles one inbound message.
func (s *Service) Dispatch(ctx context.Context, msg protocol.Message) {
	if site := messageSite(msg); !s.acceptsSite(site) {
		return
	}

	switch m := msg.(type) {
	case protocol.ToggleOn:
		s.toggleOn(m.Reason)
	case protocol.ToggleOff:
		s.toggleOff(m.Reason)
	case protocol.StartListening:
		s.manager.StartListening(ctx, m)
	case protocol.StopListening:
		if complete := s.manager.BeginStop(m); complete != nil {
			s.background(func() { complete(ctx) })
		}
	case protocol.AudioFrame:
		if s.Enabled() {
			s.manager.HandleAudioFrame(ctx, m)
		}
	case protocol.AudioSessionFrame:
		if s.Enabled() {
			s.manager.HandleAudioSessionFrame(ctx, m)
		}
	case protocol.Train:
		s.background(func() { s.train(ctx, m) })
	case protocol.Pronounce:
		s.background(func() { s.pronounce(ctx, m) })
	default:
		s.log.Warn("unexpected message", slog.String("type", fmt.Sprintf("%T", msg)))
	}
}

func messageSite(msg protocol.Message) string {
	switch m := msg.(type) {
	case protocol.ToggleOn:
		return m.SiteID
	case protocol.ToggleOff:
		return m.SiteID
	case protocol.StartListening:
		return m.SiteID
	case protocol.StopListening:
		return m.SiteID
	case protocol.AudioFrame:
		return m.SiteID
	case protocol.AudioSessionFrame:
		return m.SiteID
	case protocol.Train:
		return m.SiteID
	case protocol.Pronounce:
		return m.SiteID
	default:
		return ""
	}
}

func (s *Service) acceptsSite(site string) bool {
	if len(s.sites) == 0 {
		return true
	}
	_, ok := s.sites[site]
	return ok
}

func (s *Service) toggleOn(reason protocol.ToggleReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == protocol.ToggleReasonUnknown {
		clear(s.disabled)
	} else {
		delete(s.disabled, reason)
	}
	if len(s.disabled) > 0 {
		s.log.Debug("still disabled", slog.Int("reasons", len(s.disabled)))
		return
	}
	s.enabled = true
	s.log.Debug("enabled")
}

func (s *Service) toggleOff(reason protocol.ToggleReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.disabled[reason] = struct{}{}
	s.log.Debug("disabled", slog.String("reason", string(reason)))
}

func (s *Service) train(ctx context.Context, req protocol.Train) {
	if s.trainer == nil {
		s.emit(protocol.AsrError{Error: "training is not configured", Context: req.GraphPath, SiteID: req.SiteID, SessionID: protocol.NamedSession(req.ID)})
		return
	}
	result, err := s.trainer.Train(ctx, req)
	if err != nil {
		s.log.Warn("training failed", slog.String("site_id", req.SiteID), slogError(err))
		s.emit(protocol.AsrError{Error: err.Error(), Context: req.GraphPath, SiteID: req.SiteID, SessionID: protocol.NamedSession(req.ID)})
		return
	}
	s.emit(result)
}

func (s *Service) pronounce(ctx context.Context, req protocol.Pronounce) {
	if s.pronouncer == nil {
		s.emit(protocol.G2pError{Error: "pronunciation lookup is not configured", SiteID: req.SiteID, SessionID: req.SessionID})
		return
	}
	result, err := s.pronouncer.Pronounce(ctx, req)
	if err != nil {
		s.log.Warn("pronounce failed", slog.String("site_id", req.SiteID), slogError(err))
		s.emit(protocol.G2pError{Error: err.Error(), Context: fmt.Sprint(req.Words), SiteID: req.SiteID, SessionID: req.SessionID})
		return
	}
	s.emit(result)
}

func (s *Service) emit(evt protocol.Event) {
	for _, p := range s.publishers {
		if err := p.Publish(s.ctx, evt); err != nil {
			s.log.Warn("failed to publish event", slog.String("subject", evt.Subject()), slogError(err))
		}
	}
}

type natsPublisher struct {
	client *bus.Client
}

func (p natsPublisher) Publish(_ context.Context, evt protocol.Event) error {
	return p.client.PublishJSON(evt.Subject(), evt)
}
