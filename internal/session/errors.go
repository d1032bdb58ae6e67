package session

import "errors"

var (
	// ErrEmptyComment is returned when a comment is blank after trimming.
	ErrEmptyComment = errors.New("comment text is empty")

	// ErrRenditionUnavailable is returned by the negotiator when the selected
	// option no longer matches a rendition offered by the player.
	ErrRenditionUnavailable = errors.New("rendition no longer available")

	// ErrReleased is returned by operations attempted after Release.
	ErrReleased = errors.New("session released")
)
