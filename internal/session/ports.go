package session

import (
	"context"
	"time"
)

// Stream is the result of resolving a match to a playable URL.
type Stream struct {
	PlaybackURL string
	Metadata    map[string]string
}

// StreamResolver looks up the playback URL of a match. Called once per
// LoadStream or Retry.
type StreamResolver interface {
	ResolveStream(ctx context.Context, matchID MatchID) (Stream, error)
}

// CommentPage is one page of comments, oldest first.
// NextCursor identifies the oldest entry of the page and is passed back as
// the before cursor to fetch the next older page.
type CommentPage struct {
	Entries    []CommentEntry
	NextCursor string
	HasMore    bool
}

// CommentBackend is the remote comment store of a match.
type CommentBackend interface {
	// FetchPage returns up to limit entries strictly older than before.
	// An empty before cursor requests the newest page.
	FetchPage(ctx context.Context, matchID MatchID, before string, limit int) (CommentPage, error)
	// Post stores a new comment and returns the acknowledged entry.
	Post(ctx context.Context, matchID MatchID, draft CommentDraft) (CommentEntry, error)
	// Subscribe delivers comments posted after the call until ctx is done,
	// then closes the channel.
	Subscribe(ctx context.Context, matchID MatchID) (<-chan CommentEntry, error)
}

// PlayerStatus is the raw state reported by an adaptive player.
type PlayerStatus int

const (
	PlayerIdle PlayerStatus = iota
	PlayerBuffering
	PlayerReady
	PlayerPlaying
	PlayerPaused
	PlayerEnded
)

func (s PlayerStatus) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerBuffering:
		return "buffering"
	case PlayerReady:
		return "ready"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// PlayerEvent is the closed set of callbacks a player adapter may deliver.
type PlayerEvent interface {
	playerEvent()
}

// PlayerStatusChanged reports a new raw player state.
type PlayerStatusChanged struct {
	Status PlayerStatus
}

// PlayerRenditionsChanged reports the renditions available for the loaded stream.
type PlayerRenditionsChanged struct {
	Renditions []Rendition
}

// PlayerRenditionSwitched reports that the player itself moved to another
// rendition while in automatic mode.
type PlayerRenditionSwitched struct {
	Rendition Rendition
}

// PlayerFailed reports a fatal playback error.
type PlayerFailed struct {
	Err error
}

func (PlayerStatusChanged) playerEvent()     {}
func (PlayerRenditionsChanged) playerEvent() {}
func (PlayerRenditionSwitched) playerEvent() {}
func (PlayerFailed) playerEvent()            {}

// PlayerListener receives player callbacks. It may be invoked from any goroutine.
type PlayerListener func(PlayerEvent)

// Player is the adaptive player consumed by the negotiator and the state
// machine. It is never exposed above the session.
type Player interface {
	Load(url string) error
	Play()
	Pause()
	Seek(pos time.Duration)
	Release()
	// Renditions returns the renditions currently offered by the stream.
	Renditions() []Rendition
	// SelectAuto hands rendition choice back to the player's ABR logic.
	SelectAuto() error
	// SelectRendition pins playback to the rendition with the given id.
	SelectRendition(id string) error
}

// PlayerFactory builds the per-session player bound to listener.
type PlayerFactory func(listener PlayerListener) Player
