package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"matchlive/internal/platform/metrics"
)

const (
	// DefaultResolveTimeout bounds stream url resolution.
	DefaultResolveTimeout = 10 * time.Second
	// DefaultCommentTimeout bounds each comment fetch or post.
	DefaultCommentTimeout = 10 * time.Second

	eventBuffer = 32
)

// Options configures an Orchestrator.
type Options struct {
	MatchID        MatchID // optional initial match
	Author         Author
	PageSize       int
	ResolveTimeout time.Duration
	CommentTimeout time.Duration
	HideDelay      time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics // may be nil
}

func (o *Options) setDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = DefaultResolveTimeout
	}
	if o.CommentTimeout <= 0 {
		o.CommentTimeout = DefaultCommentTimeout
	}
	if o.HideDelay <= 0 {
		o.HideDelay = DefaultHideDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Orchestrator is the live-match session exposed to the presentation layer:
// intents go in through Dispatch, state and one-shot events come out through
// State and Subscribe.
//
// Every field below the mailbox is owned by the mailbox goroutine. Playback
// and comments run independent backend calls whose results are merged back
// on that goroutine, so a failure in one never blocks or corrupts the other.
type Orchestrator struct {
	mb       *mailbox
	resolver StreamResolver
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics

	snapshot     atomic.Pointer[SessionState]
	lastActivity atomic.Int64
	releaseOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	matchID         MatchID
	playback        *PlaybackMachine
	quality         *QualityNegotiator
	feed            *CommentFeed
	resolveCancel   context.CancelFunc
	controlsVisible bool
	interacted      bool
	timerArmed      bool
	hideTimer       *time.Timer
	hideSeq         uint64
	subs            map[*Subscription]struct{}
	pending         []Event
}

// New builds a session. The player is created through newPlayer and owned by
// the session until Release.
func New(resolver StreamResolver, comments CommentBackend, newPlayer PlayerFactory, opts Options) *Orchestrator {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		mb:              newMailbox(),
		resolver:        resolver,
		opts:            opts,
		log:             opts.Logger,
		metrics:         opts.Metrics,
		ctx:             ctx,
		cancel:          cancel,
		matchID:         opts.MatchID,
		controlsVisible: true,
		subs:            make(map[*Subscription]struct{}),
	}

	player := newPlayer(func(ev PlayerEvent) {
		o.schedule(func() { o.onPlayerEvent(ev) })
	})
	o.playback = NewPlaybackMachine(player, o.log.With(slog.String("component", "playback")))
	o.quality = NewQualityNegotiator(player, o.log.With(slog.String("component", "quality")))
	o.feed = NewCommentFeed(comments, o.schedule, o.emit, FeedConfig{
		Author:   opts.Author,
		PageSize: opts.PageSize,
		Timeout:  opts.CommentTimeout,
		Logger:   o.log.With(slog.String("component", "comments")),
		Metrics:  opts.Metrics,
	})
	o.feed.Reset(o.matchID)

	o.touch()
	o.metrics.SessionOpened()
	o.mb.call(o.publish)
	return o
}

// schedule runs fn on the mailbox goroutine followed by the settle step.
func (o *Orchestrator) schedule(fn func()) bool {
	return o.mb.post(func() { o.mutate(fn) })
}

// mutate applies fn and then re-derives the control timer, publishes the new
// state and flushes the events fn produced.
func (o *Orchestrator) mutate(fn func()) {
	prev := o.playback.State().Phase
	fn()
	o.syncControls(prev)
	o.publish()
}

// Dispatch applies an intent and returns once its synchronous effects have
// settled. Intents sent after Release are ignored.
func (o *Orchestrator) Dispatch(in Intent) {
	if _, ok := in.(Release); ok {
		o.Release()
		return
	}
	o.touch()
	if !o.mb.call(func() {
		o.metrics.IncIntent(in.intentName())
		o.mutate(func() { o.handle(in) })
	}) {
		o.log.Debug("intent after release ignored", slog.String("intent", in.intentName()))
	}
}

func (o *Orchestrator) handle(in Intent) {
	switch in := in.(type) {
	case SetMatch:
		o.setMatch(in.MatchID)
	case LoadStream:
		if !o.requireMatch(in) {
			return
		}
		if attempt, ok := o.playback.RequestLoad(); ok {
			o.quality.Reset()
			o.resolve(attempt)
		}
	case PlayPauseToggle:
		if attempt, restart := o.playback.Toggle(); restart {
			o.quality.Reset()
			o.resolve(attempt)
		}
	case Retry:
		if attempt, ok := o.playback.Retry(); ok {
			o.quality.Reset()
			o.resolve(attempt)
		}
	case SelectQuality:
		// failures are logged by the negotiator and never surface
		_ = o.quality.Select(in.Option)
	case ShowControls:
		o.controlsVisible = true
		o.interacted = true
	case HideControls:
		o.controlsVisible = false
	case ToggleControlsVisibility:
		o.controlsVisible = !o.controlsVisible
		o.interacted = o.controlsVisible
	case LoadComments:
		if o.requireMatch(in) {
			o.feed.LoadInitial(o.matchID, o.opts.PageSize)
		}
	case LoadMoreComments:
		o.feed.LoadOlder()
	case PostComment:
		if o.requireMatch(in) {
			_ = o.feed.Post(in.Text)
		}
	case RefreshComments:
		if o.requireMatch(in) {
			o.feed.Refresh()
		}
	case DismissCommentError:
		o.feed.DismissErrors()
	default:
		o.log.Warn("unknown intent", slog.String("intent", fmt.Sprintf("%T", in)))
	}
}

func (o *Orchestrator) requireMatch(in Intent) bool {
	if o.matchID != "" {
		return true
	}
	o.log.Warn("intent requires a match", slog.String("intent", in.intentName()))
	o.emit(Event{Kind: EventShowError, Message: "no match selected"})
	return false
}

func (o *Orchestrator) setMatch(id MatchID) {
	if id == o.matchID {
		return
	}
	o.log.Info("session bound to match", slog.String("match_id", string(id)),
		slog.String("previous", string(o.matchID)))
	if o.resolveCancel != nil {
		o.resolveCancel()
		o.resolveCancel = nil
	}
	o.playback.Reset()
	o.quality.Reset()
	o.feed.Reset(id)
	o.matchID = id
}

// resolve looks up the stream url for attempt off the mailbox goroutine.
func (o *Orchestrator) resolve(attempt uint64) {
	if o.resolveCancel != nil {
		o.resolveCancel()
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.ResolveTimeout)
	o.resolveCancel = cancel

	matchID := o.matchID
	go func() {
		defer cancel()
		start := time.Now()
		stream, err := o.resolver.ResolveStream(ctx, matchID)
		o.metrics.ObserveResolve(time.Since(start), err)
		o.schedule(func() { o.onResolved(attempt, stream, err) })
	}()
}

func (o *Orchestrator) onResolved(attempt uint64, stream Stream, err error) {
	if attempt != o.playback.Attempt() {
		return
	}
	o.resolveCancel = nil
	if err != nil {
		o.log.Warn("stream resolution failed", slog.String("match_id", string(o.matchID)),
			slog.String("error", err.Error()))
		o.playback.ResolveFailed(attempt, err)
		o.metrics.IncPlaybackError("resolve")
		o.emit(Event{Kind: EventShowError, Message: o.playback.State().Message})
		return
	}
	o.log.Info("stream resolved", slog.String("match_id", string(o.matchID)),
		slog.String("url", stream.PlaybackURL))
	o.playback.Resolved(attempt, stream.PlaybackURL)
	if st := o.playback.State(); st.IsError() {
		o.metrics.IncPlaybackError("load")
		o.emit(Event{Kind: EventShowError, Message: st.Message})
	}
}

func (o *Orchestrator) onPlayerEvent(ev PlayerEvent) {
	switch ev := ev.(type) {
	case PlayerStatusChanged:
		if o.playback.OnPlayerStatus(ev.Status) {
			if len(o.quality.Options()) == 1 {
				o.quality.OnRenditionsDiscovered(o.playback.player.Renditions())
			}
			// errors are logged; playback continues on whatever the player chose
			_ = o.quality.SelectAutoMax()
		}
	case PlayerRenditionsChanged:
		o.quality.OnRenditionsDiscovered(ev.Renditions)
	case PlayerRenditionSwitched:
		o.quality.OnPlayerSwitched(ev.Rendition)
	case PlayerFailed:
		before := o.playback.State()
		o.playback.OnPlayerFailed(ev.Err)
		if st := o.playback.State(); st.IsError() && st != before {
			o.log.Warn("playback failed", slog.String("error", ev.Err.Error()))
			o.metrics.IncPlaybackError("player")
			o.emit(Event{Kind: EventShowError, Message: st.Message})
		}
	}
}

func (o *Orchestrator) emit(ev Event) {
	o.pending = append(o.pending, ev)
}

func (o *Orchestrator) buildState() SessionState {
	pb := o.playback.State()
	st := SessionState{
		MatchID:           o.matchID,
		Playback:          pb,
		PlaybackURL:       o.playback.URL(),
		QualityOptions:    o.quality.Options(),
		IsControlsVisible: o.controlsVisible,
		CommentFeed:       o.feed.State(),
	}
	if pb.IsError() {
		st.ErrorMessage = pb.Message
	}
	return st
}

// publish stores the new snapshot, hands it to subscribers and then flushes
// pending events, so an event never arrives before the state it refers to.
func (o *Orchestrator) publish() {
	st := o.buildState()
	o.snapshot.Store(&st)
	for sub := range o.subs {
		sub.sendState(st)
	}

	events := o.pending
	o.pending = nil
	for _, ev := range events {
		for sub := range o.subs {
			if !sub.sendEvent(ev) {
				o.log.Warn("subscriber too slow, event dropped", slog.String("event", ev.Kind.String()))
			}
		}
	}
}

// State returns the latest published state.
func (o *Orchestrator) State() SessionState {
	if st := o.snapshot.Load(); st != nil {
		return *st
	}
	return SessionState{}
}

// MatchID returns the match of the latest published state.
func (o *Orchestrator) MatchID() MatchID {
	return o.State().MatchID
}

// LastActivity returns when the session last received an intent.
func (o *Orchestrator) LastActivity() time.Time {
	return time.Unix(0, o.lastActivity.Load())
}

func (o *Orchestrator) touch() {
	o.lastActivity.Store(time.Now().UnixNano())
}

// Released reports whether Release has completed.
func (o *Orchestrator) Released() bool {
	select {
	case <-o.mb.done:
		return true
	default:
		return false
	}
}

// Subscribe registers an observer. The current state is delivered
// immediately; events emitted before the call are not replayed. After
// Release the returned subscription has closed channels.
func (o *Orchestrator) Subscribe() *Subscription {
	sub := &Subscription{
		o:      o,
		states: make(chan SessionState, 1),
		events: make(chan Event, eventBuffer),
	}
	if !o.mb.call(func() {
		o.subs[sub] = struct{}{}
		sub.sendState(o.buildState())
	}) {
		sub.closeChannels()
	}
	return sub
}

// Release tears the session down: the player is released, every in-flight
// backend call and the live comment feed are cancelled, and subscriptions
// are closed. It is safe to call more than once and from several goroutines.
func (o *Orchestrator) Release() {
	o.releaseOnce.Do(func() {
		o.mb.shutdown(o.teardown)
		o.mb.wait()
	})
}

func (o *Orchestrator) teardown() {
	if o.resolveCancel != nil {
		o.resolveCancel()
		o.resolveCancel = nil
	}
	o.stopHideTimer()
	o.feed.Close()
	o.playback.Release()
	o.cancel()

	for sub := range o.subs {
		sub.closeChannels()
		delete(o.subs, sub)
	}
	o.pending = nil
	o.metrics.SessionReleased()
	o.log.Info("session released", slog.String("match_id", string(o.matchID)))
}

// Subscription receives states and one-shot events of one session.
type Subscription struct {
	o      *Orchestrator
	states chan SessionState
	events chan Event
	closed bool
}

// States delivers the latest state; intermediate states may be skipped.
func (s *Subscription) States() <-chan SessionState { return s.states }

// Events delivers one-shot events in emission order.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close unregisters the subscription and closes its channels.
func (s *Subscription) Close() {
	s.o.mb.call(func() {
		if _, ok := s.o.subs[s]; ok {
			delete(s.o.subs, s)
			s.closeChannels()
		}
	})
}

func (s *Subscription) sendState(st SessionState) {
	select {
	case s.states <- st:
		return
	default:
	}
	// drop the stale state so the newest one wins
	select {
	case <-s.states:
	default:
	}
	select {
	case s.states <- st:
	default:
	}
}

func (s *Subscription) sendEvent(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) closeChannels() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.states)
	close(s.events)
}
