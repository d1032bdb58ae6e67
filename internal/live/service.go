package live

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchlive/internal/platform/metrics"
	"matchlive/internal/session"
)

// ErrSessionNotFound is returned for ids that were never opened or were
// already released.
var ErrSessionNotFound = errors.New("session not found")

// Config holds the collaborators and per-session settings of a Service.
type Config struct {
	Resolver session.StreamResolver
	Comments session.CommentBackend
	Players  session.PlayerFactory

	PageSize       int
	ResolveTimeout time.Duration
	CommentTimeout time.Duration
	HideDelay      time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics // may be nil
}

// Service opens sessions, routes intents to them and releases them.
type Service struct {
	cfg   Config
	reg   *Registry
	log   *slog.Logger
	now   func() time.Time
	newID func() SessionID
}

// NewService returns a Service storing its sessions in reg.
func NewService(cfg Config, reg *Registry) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:   cfg,
		reg:   reg,
		log:   cfg.Logger,
		now:   time.Now,
		newID: func() SessionID { return SessionID(uuid.NewString()) },
	}
}

// Open creates a session bound to matchID. An empty author id gets a
// generated one so comments from anonymous viewers stay attributable.
func (s *Service) Open(matchID session.MatchID, author session.Author) (SessionID, *session.Orchestrator) {
	id := s.newID()
	if strings.TrimSpace(author.ID) == "" {
		author.ID = "anon-" + uuid.NewString()
	}
	if strings.TrimSpace(author.Name) == "" {
		author.Name = "Anonymous"
	}

	o := session.New(s.cfg.Resolver, s.cfg.Comments, s.cfg.Players, session.Options{
		MatchID:        matchID,
		Author:         author,
		PageSize:       s.cfg.PageSize,
		ResolveTimeout: s.cfg.ResolveTimeout,
		CommentTimeout: s.cfg.CommentTimeout,
		HideDelay:      s.cfg.HideDelay,
		Logger:         s.log.With(slog.String("session_id", string(id))),
		Metrics:        s.cfg.Metrics,
	})
	s.reg.Add(id, o, s.now())

	s.log.Info("session opened",
		slog.String("session_id", string(id)),
		slog.String("match_id", string(matchID)),
		slog.String("author_id", author.ID))
	return id, o
}

// Get returns the session stored under id.
func (s *Service) Get(id SessionID) (*session.Orchestrator, error) {
	o, ok := s.reg.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if o.Released() {
		return nil, session.ErrReleased
	}
	return o, nil
}

// Dispatch applies in to the session and returns the state it settled on.
// A Release intent removes the session from the registry as well.
func (s *Service) Dispatch(id SessionID, in session.Intent) (session.SessionState, error) {
	if _, ok := in.(session.Release); ok {
		o, ok := s.reg.Get(id)
		if !ok {
			return session.SessionState{}, ErrSessionNotFound
		}
		st := o.State()
		s.Release(id)
		return st, nil
	}

	o, err := s.Get(id)
	if err != nil {
		return session.SessionState{}, err
	}
	o.Dispatch(in)
	return o.State(), nil
}

// Release tears down the session stored under id. Unknown ids are ignored
// so releasing twice is harmless. It reports whether a session was removed.
func (s *Service) Release(id SessionID) bool {
	o, ok := s.reg.Remove(id)
	if !ok {
		return false
	}
	o.Release()
	s.log.Info("session closed", slog.String("session_id", string(id)))
	return true
}

// ReleaseIdle releases every session whose last intent is older than
// maxIdle at now, and sessions already released from the inside.
func (s *Service) ReleaseIdle(now time.Time, maxIdle time.Duration) int {
	n := 0
	for _, id := range s.reg.IDs() {
		o, ok := s.reg.Get(id)
		if !ok {
			continue
		}
		if o.Released() || now.Sub(o.LastActivity()) > maxIdle {
			s.log.Info("releasing idle session",
				slog.String("session_id", string(id)),
				slog.Time("last_activity", o.LastActivity()))
			if s.Release(id) {
				n++
			}
		}
	}
	return n
}

// Shutdown releases every open session.
func (s *Service) Shutdown() {
	ids := s.reg.IDs()
	for _, id := range ids {
		s.Release(id)
	}
	s.log.Info("all sessions released", slog.Int("count", len(ids)))
}

// ActiveSessionCount returns the number of open sessions.
func (s *Service) ActiveSessionCount() int {
	return s.reg.ActiveSessionCount()
}
