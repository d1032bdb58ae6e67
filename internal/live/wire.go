package live

import (
	"errors"
	"fmt"

	"matchlive/internal/session"
)

// ErrUnknownIntent is returned for intent types the session does not accept.
var ErrUnknownIntent = errors.New("unknown intent type")

// openRequest is the body of POST /sessions.
type openRequest struct {
	MatchID string `json:"match_id"`
	Author  struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		ImageURL string `json:"image_url"`
	} `json:"author"`
}

type openResponse struct {
	SessionID SessionID            `json:"session_id"`
	State     session.SessionState `json:"state"`
}

// intentRequest is the body of POST /sessions/{session_id}/intents.
type intentRequest struct {
	Type    string                `json:"type"`
	MatchID string                `json:"match_id,omitempty"`
	Text    string                `json:"text,omitempty"`
	Option  session.QualityOption `json:"option"`
}

// decodeIntent maps a wire request onto one of the session intents.
func decodeIntent(req intentRequest) (session.Intent, error) {
	switch req.Type {
	case "set_match":
		if req.MatchID == "" {
			return nil, errors.New("set_match requires match_id")
		}
		return session.SetMatch{MatchID: session.MatchID(req.MatchID)}, nil
	case "load_stream":
		return session.LoadStream{}, nil
	case "play_pause_toggle":
		return session.PlayPauseToggle{}, nil
	case "retry":
		return session.Retry{}, nil
	case "select_quality":
		return session.SelectQuality{Option: req.Option}, nil
	case "show_controls":
		return session.ShowControls{}, nil
	case "hide_controls":
		return session.HideControls{}, nil
	case "toggle_controls_visibility":
		return session.ToggleControlsVisibility{}, nil
	case "load_comments":
		return session.LoadComments{}, nil
	case "load_more_comments":
		return session.LoadMoreComments{}, nil
	case "post_comment":
		return session.PostComment{Text: req.Text}, nil
	case "refresh_comments":
		return session.RefreshComments{}, nil
	case "dismiss_comment_error":
		return session.DismissCommentError{}, nil
	case "release":
		return session.Release{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, req.Type)
	}
}

// eventPayload is the wire form of a one-shot event.
type eventPayload struct {
	Kind    session.EventKind     `json:"kind"`
	Message string                `json:"message,omitempty"`
	DelayMS int64                 `json:"delay_ms,omitempty"`
	Comment *session.CommentEntry `json:"comment,omitempty"`
}

func newEventPayload(ev session.Event) *eventPayload {
	return &eventPayload{
		Kind:    ev.Kind,
		Message: ev.Message,
		DelayMS: ev.Delay.Milliseconds(),
		Comment: ev.Comment,
	}
}

// streamMessage is one websocket frame of the events endpoint. Kind is
// "state" or "event".
type streamMessage struct {
	Kind  string                `json:"kind"`
	State *session.SessionState `json:"state,omitempty"`
	Event *eventPayload         `json:"event,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
