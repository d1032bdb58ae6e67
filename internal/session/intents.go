package session

import "time"

// Intent is a request from the presentation layer.
type Intent interface {
	intentName() string
}

type (
	SetMatch                 struct{ MatchID MatchID }
	LoadStream               struct{}
	PlayPauseToggle          struct{}
	Retry                    struct{}
	SelectQuality            struct{ Option QualityOption }
	ShowControls             struct{}
	HideControls             struct{}
	ToggleControlsVisibility struct{}
	LoadComments             struct{}
	LoadMoreComments         struct{}
	PostComment              struct{ Text string }
	RefreshComments          struct{}
	DismissCommentError      struct{}
	Release                  struct{}
)

func (SetMatch) intentName() string                 { return "set_match" }
func (LoadStream) intentName() string               { return "load_stream" }
func (PlayPauseToggle) intentName() string          { return "play_pause_toggle" }
func (Retry) intentName() string                    { return "retry" }
func (SelectQuality) intentName() string            { return "select_quality" }
func (ShowControls) intentName() string             { return "show_controls" }
func (HideControls) intentName() string             { return "hide_controls" }
func (ToggleControlsVisibility) intentName() string { return "toggle_controls_visibility" }
func (LoadComments) intentName() string             { return "load_comments" }
func (LoadMoreComments) intentName() string         { return "load_more_comments" }
func (PostComment) intentName() string              { return "post_comment" }
func (RefreshComments) intentName() string          { return "refresh_comments" }
func (DismissCommentError) intentName() string      { return "dismiss_comment_error" }
func (Release) intentName() string                  { return "release" }

// IntentName returns the wire name of an intent.
func IntentName(in Intent) string { return in.intentName() }

// EventKind enumerates the one-shot events of a session.
type EventKind int

const (
	EventShowError EventKind = iota + 1
	EventScrollToBottom
	EventStartControlsTimer
	EventStopControlsTimer
	EventCommentPosted
)

func (k EventKind) String() string {
	switch k {
	case EventShowError:
		return "show_error"
	case EventScrollToBottom:
		return "scroll_to_bottom"
	case EventStartControlsTimer:
		return "start_controls_timer"
	case EventStopControlsTimer:
		return "stop_controls_timer"
	case EventCommentPosted:
		return "comment_posted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a one-shot signal. It is delivered to the subscribers present
// when it is emitted and never replayed.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Message string        `json:"message,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"` // hide delay of StartControlsTimer
	Comment *CommentEntry `json:"comment,omitempty"`
}
