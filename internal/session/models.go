package session

import "strings"

// MatchID identifies the football match a session is bound to.
type MatchID string

// Phase is the coarse playback phase of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhasePlaying
	PhasePaused
	PhaseBuffering
	PhaseEnded
	PhaseError
)

// String returns the lower-case label used in logs and JSON.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseBuffering:
		return "buffering"
	case PhaseEnded:
		return "ended"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PlaybackState is the value held by the playback state machine.
// Message is only set when Phase is PhaseError.
type PlaybackState struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message,omitempty"`
}

// IsError reports whether the state carries a playback error.
func (s PlaybackState) IsError() bool { return s.Phase == PhaseError }

// Rendition is one encoded quality variant of a stream as reported by the player.
type Rendition struct {
	ID      string `json:"id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"`
}

// score is the "auto max" heuristic: resolution area plus bitrate.
func (r Rendition) score() int64 {
	return int64(r.Width)*int64(r.Height) + int64(r.Bitrate)
}

// QualityOption is one entry of the quality picker. The auto option has an
// empty ID and is always present exactly once.
type QualityOption struct {
	ID         string `json:"id,omitempty"`
	Label      string `json:"label"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bitrate    int    `json:"bitrate"`
	IsAuto     bool   `json:"is_auto"`
	IsSelected bool   `json:"is_selected"`
}

// CommentEntry is a single comment on a match. Entries are immutable once created.
type CommentEntry struct {
	ID             string `json:"id"`
	AuthorID       string `json:"author_id"`
	AuthorName     string `json:"author_name"`
	AuthorImageURL string `json:"author_image_url,omitempty"`
	Text           string `json:"text"`
	CreatedAt      int64  `json:"created_at"` // epoch millis
}

// CommentDraft is what a client submits; the backend assigns ID and CreatedAt.
type CommentDraft struct {
	AuthorID       string `json:"author_id"`
	AuthorName     string `json:"author_name"`
	AuthorImageURL string `json:"author_image_url,omitempty"`
	Text           string `json:"text"`
}

// Author identifies the local user posting comments from a session.
type Author struct {
	ID       string
	Name     string
	ImageURL string
}

// CommentFeedState is the comment timeline of one match, oldest first.
type CommentFeedState struct {
	Entries          []CommentEntry `json:"entries"`
	IsLoadingInitial bool           `json:"is_loading_initial"`
	IsLoadingOlder   bool           `json:"is_loading_older"`
	IsPosting        bool           `json:"is_posting"`
	HasMoreOlder     bool           `json:"has_more_older"`
	OldestCursorKey  string         `json:"oldest_cursor_key,omitempty"`

	InitialError string `json:"initial_error,omitempty"`
	OlderError   string `json:"older_error,omitempty"`
	PostError    string `json:"post_error,omitempty"`
}

// busy reports whether a load the user is waiting on is in flight.
func (s CommentFeedState) busy() bool {
	return s.IsLoadingInitial || s.IsLoadingOlder
}

func (s CommentFeedState) clone() CommentFeedState {
	out := s
	if s.Entries != nil {
		out.Entries = append([]CommentEntry(nil), s.Entries...)
	}
	return out
}

// SessionState is the single externally observed state of a live-match session.
type SessionState struct {
	MatchID           MatchID          `json:"match_id"`
	Playback          PlaybackState    `json:"playback"`
	PlaybackURL       string           `json:"playback_url,omitempty"`
	QualityOptions    []QualityOption  `json:"quality_options"`
	IsControlsVisible bool             `json:"is_controls_visible"`
	CommentFeed       CommentFeedState `json:"comment_feed"`
	ErrorMessage      string           `json:"error_message,omitempty"`
}

// SelectedQuality returns the currently selected option, if any.
func (s SessionState) SelectedQuality() (QualityOption, bool) {
	for _, o := range s.QualityOptions {
		if o.IsSelected {
			return o, true
		}
	}
	return QualityOption{}, false
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
