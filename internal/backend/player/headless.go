package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"matchlive/internal/session"
)

var (
	// ErrUnknownRendition is returned when pinning a rendition the stream does not offer.
	ErrUnknownRendition = errors.New("unknown rendition")

	// ErrPlayerReleased is returned by Load after Release.
	ErrPlayerReleased = errors.New("player released")
)

const maxPlaylistBytes = 1 << 20

// Headless is a server-side Player. It fetches the master playlist of the
// loaded stream to discover renditions and tracks the playback state a real
// device would report, without decoding media. A media playlist closed by
// #EXT-X-ENDLIST is a finished recording: it reports Ended once its duration
// has been played. Every state change is reported to the listener in order;
// the listener must not block or call back into the player.
type Headless struct {
	client   *http.Client
	listener session.PlayerListener
	log      *slog.Logger

	mu            sync.Mutex
	gen           uint64
	cancel        context.CancelFunc
	status        session.PlayerStatus
	renditions    []session.Rendition
	auto          bool
	pinned        string
	position      time.Duration
	playWhenReady bool
	released      bool

	// finished recordings only
	length    time.Duration
	finite    bool
	playStart time.Time
	endTimer  *time.Timer
	endSeq    uint64
}

// Factory returns a session.PlayerFactory building headless players that
// fetch playlists through client.
func Factory(client *http.Client, log *slog.Logger) session.PlayerFactory {
	return func(listener session.PlayerListener) session.Player {
		return NewHeadless(client, listener, log)
	}
}

// NewHeadless returns an idle player. A nil client uses http.DefaultClient.
func NewHeadless(client *http.Client, listener session.PlayerListener, log *slog.Logger) *Headless {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Headless{client: client, listener: listener, log: log, auto: true}
}

// Load starts fetching the master playlist at rawURL. Discovery runs in the
// background and is reported as Buffering, the renditions, then Ready.
func (p *Headless) Load(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("unsupported stream url %q", rawURL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPlayerReleased
	}
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.gen++
	p.setStatusLocked(session.PlayerBuffering)
	p.renditions = nil
	p.position = 0
	p.finite, p.length = false, 0
	p.playWhenReady = false

	go p.discover(ctx, p.gen, u)
	return nil
}

func (p *Headless) discover(ctx context.Context, gen uint64, u *url.URL) {
	pl, err := p.fetch(ctx, u)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.released {
		return
	}
	if err != nil {
		p.log.Warn("master playlist unavailable", slog.String("url", u.String()), slog.String("error", err.Error()))
		p.status = session.PlayerIdle
		p.listener(session.PlayerFailed{Err: err})
		return
	}

	p.renditions = pl.Renditions()
	p.finite, p.length = pl.Ended, pl.Duration
	if pl.Media {
		// a media playlist is a single rendition of unknown size
		p.renditions = []session.Rendition{{ID: "source"}}
	}
	p.listener(session.PlayerRenditionsChanged{Renditions: append([]session.Rendition(nil), p.renditions...)})
	p.setStatusLocked(session.PlayerReady)
	if p.auto {
		p.reportAutoLocked()
	}
	if p.playWhenReady {
		p.setStatusLocked(session.PlayerPlaying)
	}
}

func (p *Headless) fetch(ctx context.Context, u *url.URL) (Playlist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Playlist{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Playlist{}, fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Playlist{}, fmt.Errorf("fetch playlist: unexpected status %d", resp.StatusCode)
	}

	pl, err := ParseMasterPlaylist(io.LimitReader(resp.Body, maxPlaylistBytes), u)
	if err != nil {
		return Playlist{}, fmt.Errorf("parse playlist: %w", err)
	}
	if len(pl.Variants) == 0 && !pl.Media {
		return Playlist{}, errors.New("playlist has no variants")
	}
	return pl, nil
}

// Play starts playback, or plays as soon as the stream is ready.
func (p *Headless) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status {
	case session.PlayerReady, session.PlayerPaused:
		p.setStatusLocked(session.PlayerPlaying)
	case session.PlayerBuffering:
		p.playWhenReady = true
	}
}

// Pause pauses playback.
func (p *Headless) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playWhenReady = false
	if p.status == session.PlayerPlaying {
		p.setStatusLocked(session.PlayerPaused)
	}
}

// Seek moves the playback position. Seeking an ended stream makes it
// playable again without reporting a state change.
func (p *Headless) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
	switch p.status {
	case session.PlayerEnded:
		p.status = session.PlayerPaused
	case session.PlayerPlaying:
		p.armEndLocked()
	}
}

// End reports the end of the stream, as a device does when a broadcast
// finishes. Finished recordings end on their own; End covers live streams
// whose end is announced out of band.
func (p *Headless) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == session.PlayerPlaying || p.status == session.PlayerPaused {
		p.setStatusLocked(session.PlayerEnded)
	}
}

// Release stops all work. Later calls are ignored.
func (p *Headless) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.gen++
	p.disarmEndLocked()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.status = session.PlayerIdle
}

// Renditions returns the renditions of the loaded stream.
func (p *Headless) Renditions() []session.Rendition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.Rendition(nil), p.renditions...)
}

// SelectAuto returns rendition choice to the player, which reports the
// rendition it settles on.
func (p *Headless) SelectAuto() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPlayerReleased
	}
	p.auto = true
	p.pinned = ""
	p.reportAutoLocked()
	return nil
}

// SelectRendition pins playback to the rendition with the given id.
func (p *Headless) SelectRendition(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPlayerReleased
	}
	for _, r := range p.renditions {
		if r.ID == id {
			p.auto = false
			p.pinned = id
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRendition, id)
}

// reportAutoLocked reports the rendition automatic mode settles on: the
// highest bandwidth one. Caller must hold p.mu.
func (p *Headless) reportAutoLocked() {
	if len(p.renditions) == 0 {
		return
	}
	best := append([]session.Rendition(nil), p.renditions...)
	sort.SliceStable(best, func(i, j int) bool { return best[i].Bitrate > best[j].Bitrate })
	p.listener(session.PlayerRenditionSwitched{Rendition: best[0]})
}

// setStatusLocked changes the status and reports it. Caller must hold p.mu.
func (p *Headless) setStatusLocked(s session.PlayerStatus) {
	if p.status == s {
		return
	}
	if p.status == session.PlayerPlaying {
		p.position += time.Since(p.playStart)
		p.disarmEndLocked()
	}
	p.status = s
	if s == session.PlayerPlaying {
		p.playStart = time.Now()
		p.armEndLocked()
	}
	p.listener(session.PlayerStatusChanged{Status: s})
}

// armEndLocked schedules the end of a finished recording from the current
// position. Caller must hold p.mu.
func (p *Headless) armEndLocked() {
	p.disarmEndLocked()
	if !p.finite {
		return
	}
	if p.status == session.PlayerPlaying {
		p.playStart = time.Now()
	}
	remaining := p.length - p.position
	if remaining < 0 {
		remaining = 0
	}
	p.endSeq++
	gen, seq := p.gen, p.endSeq
	p.endTimer = time.AfterFunc(remaining, func() { p.reachEnd(gen, seq) })
}

func (p *Headless) disarmEndLocked() {
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
	p.endSeq++
}

func (p *Headless) reachEnd(gen, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || seq != p.endSeq || p.released || p.status != session.PlayerPlaying {
		return
	}
	p.endTimer = nil
	p.setStatusLocked(session.PlayerEnded)
	p.position = p.length
}
