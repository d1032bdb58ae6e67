package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"matchlive/internal/session"
)

const matchPlaceholder = "{match}"

var (
	// ErrInvalidTemplate is returned when the URL template cannot produce
	// an absolute http(s) URL.
	ErrInvalidTemplate = errors.New("invalid stream url template")

	// ErrStreamUnavailable is returned when the probe finds no stream.
	ErrStreamUnavailable = errors.New("stream unavailable")
)

// TemplateResolver resolves a match to the playback URL produced by a
// template such as "https://cdn.example.com/live/{match}/master.m3u8".
type TemplateResolver struct {
	template string
	client   *http.Client
	probe    bool
	log      *slog.Logger
}

// Option configures a TemplateResolver.
type Option func(*TemplateResolver)

// WithProbe makes every resolution verify the URL with a HEAD request made
// through client. A nil client uses http.DefaultClient.
func WithProbe(client *http.Client) Option {
	return func(r *TemplateResolver) {
		if client == nil {
			client = http.DefaultClient
		}
		r.client = client
		r.probe = true
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *TemplateResolver) { r.log = log }
}

// NewTemplateResolver validates template and returns a resolver for it.
func NewTemplateResolver(template string, opts ...Option) (*TemplateResolver, error) {
	if !strings.Contains(template, matchPlaceholder) {
		return nil, fmt.Errorf("%w: missing %s placeholder", ErrInvalidTemplate, matchPlaceholder)
	}
	u, err := url.Parse(strings.ReplaceAll(template, matchPlaceholder, "x"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTemplate, template)
	}

	r := &TemplateResolver{template: template, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ResolveStream implements session.StreamResolver.
func (r *TemplateResolver) ResolveStream(ctx context.Context, matchID session.MatchID) (session.Stream, error) {
	if strings.TrimSpace(string(matchID)) == "" {
		return session.Stream{}, fmt.Errorf("%w: empty match id", ErrStreamUnavailable)
	}
	playbackURL := strings.ReplaceAll(r.template, matchPlaceholder, url.PathEscape(string(matchID)))

	stream := session.Stream{
		PlaybackURL: playbackURL,
		Metadata:    map[string]string{"match_id": string(matchID)},
	}
	if !r.probe {
		return stream, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, playbackURL, nil)
	if err != nil {
		return session.Stream{}, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return session.Stream{}, fmt.Errorf("probe stream: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Warn("stream probe rejected", slog.String("match_id", string(matchID)),
			slog.Int("status", resp.StatusCode))
		return session.Stream{}, fmt.Errorf("%w: %s returned %d", ErrStreamUnavailable, playbackURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		stream.Metadata["content_type"] = ct
	}
	return stream, nil
}
