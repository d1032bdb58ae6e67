package session

import (
	"log/slog"
)

// playbackEvent is an explicit (non player-driven) input of the state machine.
type playbackEvent int

const (
	evLoadRequested playbackEvent = iota
	evStreamResolved
	evResolveFailed
	evRetryRequested
	evPlayPauseToggled
)

func (e playbackEvent) String() string {
	switch e {
	case evLoadRequested:
		return "load_requested"
	case evStreamResolved:
		return "stream_resolved"
	case evResolveFailed:
		return "resolve_failed"
	case evRetryRequested:
		return "retry_requested"
	case evPlayPauseToggled:
		return "play_pause_toggled"
	default:
		return "unknown"
	}
}

type playbackTransition struct {
	From  Phase
	Event playbackEvent
	To    Phase
}

// playbackTransitions lists every explicit edge. Player-driven changes apply
// from any bound state and are handled by OnPlayerStatus.
var playbackTransitions = []playbackTransition{
	{From: PhaseIdle, Event: evLoadRequested, To: PhaseLoading},
	{From: PhaseError, Event: evLoadRequested, To: PhaseLoading},
	{From: PhaseLoading, Event: evStreamResolved, To: PhaseLoading},
	{From: PhaseLoading, Event: evResolveFailed, To: PhaseError},
	{From: PhaseError, Event: evRetryRequested, To: PhaseLoading},

	{From: PhasePlaying, Event: evPlayPauseToggled, To: PhasePaused},
	{From: PhasePaused, Event: evPlayPauseToggled, To: PhasePlaying},
	{From: PhaseReady, Event: evPlayPauseToggled, To: PhasePlaying},
	{From: PhaseEnded, Event: evPlayPauseToggled, To: PhasePlaying},
	{From: PhaseError, Event: evPlayPauseToggled, To: PhaseLoading},
}

func playbackTransitionFor(from Phase, ev playbackEvent) (playbackTransition, bool) {
	for _, tr := range playbackTransitions {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return playbackTransition{}, false
}

// PlaybackMachine owns the player handle and the canonical playback state.
// It is not safe for concurrent use; the orchestrator drives it from its
// mailbox goroutine.
type PlaybackMachine struct {
	player Player
	log    *slog.Logger

	state   PlaybackState
	url     string
	bound   bool   // the player has been handed the url of the current attempt
	attempt uint64 // bumped on every entry into Loading
	autoMax bool   // auto-max selection still pending for this attempt
}

// NewPlaybackMachine returns a machine in PhaseIdle.
func NewPlaybackMachine(player Player, log *slog.Logger) *PlaybackMachine {
	return &PlaybackMachine{player: player, log: log}
}

// State returns the current playback state.
func (m *PlaybackMachine) State() PlaybackState { return m.state }

// URL returns the playback url of the current attempt, if resolved.
func (m *PlaybackMachine) URL() string { return m.url }

// Attempt identifies the current load attempt.
func (m *PlaybackMachine) Attempt() uint64 { return m.attempt }

func (m *PlaybackMachine) fire(ev playbackEvent) bool {
	tr, ok := playbackTransitionFor(m.state.Phase, ev)
	if !ok {
		m.log.Debug("playback event ignored",
			slog.String("phase", m.state.Phase.String()),
			slog.String("event", ev.String()))
		return false
	}
	m.set(PlaybackState{Phase: tr.To})
	return true
}

func (m *PlaybackMachine) set(next PlaybackState) {
	if next != m.state {
		m.log.Debug("playback transition",
			slog.String("from", m.state.Phase.String()),
			slog.String("to", next.Phase.String()))
	}
	m.state = next
}

func (m *PlaybackMachine) enterLoading() uint64 {
	m.attempt++
	m.url = ""
	m.bound = false
	m.autoMax = true
	return m.attempt
}

// RequestLoad moves Idle or Error to Loading. ok is false when the request
// was ignored; otherwise the caller must resolve the stream for attempt.
func (m *PlaybackMachine) RequestLoad() (attempt uint64, ok bool) {
	if !m.fire(evLoadRequested) {
		return 0, false
	}
	return m.enterLoading(), true
}

// Retry re-enters Loading from Error.
func (m *PlaybackMachine) Retry() (attempt uint64, ok bool) {
	if !m.fire(evRetryRequested) {
		return 0, false
	}
	return m.enterLoading(), true
}

// Resolved hands the url to the player. Stale attempts are ignored.
func (m *PlaybackMachine) Resolved(attempt uint64, url string) {
	if attempt != m.attempt || !m.fire(evStreamResolved) {
		return
	}
	m.url = url
	if err := m.player.Load(url); err != nil {
		m.log.Warn("player load failed", slog.String("url", url), slog.String("error", err.Error()))
		m.set(PlaybackState{Phase: PhaseError, Message: err.Error()})
		return
	}
	m.bound = true
	m.player.Play()
}

// ResolveFailed records a failed resolution of attempt.
func (m *PlaybackMachine) ResolveFailed(attempt uint64, err error) {
	if attempt != m.attempt || m.state.Phase != PhaseLoading {
		return
	}
	if m.fire(evResolveFailed) {
		m.state.Message = err.Error()
	}
}

// Toggle applies a play/pause press. When the press means "retry", restart
// is true and the caller must resolve the stream for attempt.
func (m *PlaybackMachine) Toggle() (attempt uint64, restart bool) {
	from := m.state.Phase
	if !m.fire(evPlayPauseToggled) {
		return 0, false
	}
	switch from {
	case PhasePlaying:
		m.player.Pause()
	case PhasePaused, PhaseReady:
		m.player.Play()
	case PhaseEnded:
		m.player.Seek(0)
		m.player.Play()
	case PhaseError:
		return m.enterLoading(), true
	}
	return 0, false
}

// OnPlayerStatus applies a state reported by the player. autoMax is true the
// first time the player becomes ready for the current attempt.
func (m *PlaybackMachine) OnPlayerStatus(status PlayerStatus) (autoMax bool) {
	if !m.bound {
		m.log.Debug("player status before load ignored", slog.String("status", status.String()))
		return false
	}

	var next Phase
	switch status {
	case PlayerBuffering:
		next = PhaseBuffering
	case PlayerReady:
		next = PhaseReady
	case PlayerPlaying:
		next = PhasePlaying
	case PlayerPaused:
		next = PhasePaused
	case PlayerIdle:
		// players drop to idle after a failure; keep the error visible
		if m.state.Phase == PhaseError || m.state.Phase == PhaseLoading {
			return false
		}
		next = PhasePaused
	case PlayerEnded:
		next = PhaseEnded
	default:
		return false
	}
	m.set(PlaybackState{Phase: next})

	if next == PhaseReady && m.autoMax {
		m.autoMax = false
		return true
	}
	return false
}

// OnPlayerFailed moves to Error with the player's message.
func (m *PlaybackMachine) OnPlayerFailed(err error) {
	if !m.bound {
		return
	}
	m.set(PlaybackState{Phase: PhaseError, Message: err.Error()})
}

// Reset stops playback and returns to Idle, invalidating the current attempt.
func (m *PlaybackMachine) Reset() {
	if m.bound {
		m.player.Pause()
	}
	m.attempt++
	m.url = ""
	m.bound = false
	m.autoMax = false
	m.set(PlaybackState{Phase: PhaseIdle})
}

// Release frees the player. The machine must not be used afterwards.
func (m *PlaybackMachine) Release() {
	m.bound = false
	m.player.Release()
}
