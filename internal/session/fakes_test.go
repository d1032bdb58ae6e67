package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlayer records every call and lets tests emit player callbacks.
type fakePlayer struct {
	mu         sync.Mutex
	listener   PlayerListener
	calls      []string
	renditions []Rendition
	loadErr    error
	selectErr  error
}

func (p *fakePlayer) factory(l PlayerListener) Player {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
	return p
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePlayer) Load(url string) error {
	p.record("load:" + url)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}

func (p *fakePlayer) Play()  { p.record("play") }
func (p *fakePlayer) Pause() { p.record("pause") }
func (p *fakePlayer) Seek(pos time.Duration) {
	p.record(fmt.Sprintf("seek:%d", pos))
}
func (p *fakePlayer) Release() { p.record("release") }

func (p *fakePlayer) Renditions() []Rendition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Rendition(nil), p.renditions...)
}

func (p *fakePlayer) SelectAuto() error {
	p.record("auto")
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectErr
}

func (p *fakePlayer) SelectRendition(id string) error {
	p.record("select:" + id)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectErr
}

func (p *fakePlayer) emit(ev PlayerEvent) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	l(ev)
}

func (p *fakePlayer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) count(call string) int {
	n := 0
	for _, c := range p.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeResolver answers from a queue of results; an empty queue blocks until
// the context is done.
type fakeResolver struct {
	mu      sync.Mutex
	results []error
	url     string
	calls   int
}

var errOriginDown = errors.New("origin unavailable")

func (r *fakeResolver) ResolveStream(ctx context.Context, matchID MatchID) (Stream, error) {
	r.mu.Lock()
	r.calls++
	if len(r.results) == 0 {
		r.mu.Unlock()
		<-ctx.Done()
		return Stream{}, ctx.Err()
	}
	err := r.results[0]
	r.results = r.results[1:]
	url := r.url
	r.mu.Unlock()

	if err != nil {
		return Stream{}, err
	}
	if url == "" {
		url = "https://cdn.example/" + string(matchID) + "/master.m3u8"
	}
	return Stream{PlaybackURL: url}, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeComments serves pages out of a fixed, chronological history.
// Fetches can be held with hold and failed with fetchErr.
type fakeComments struct {
	mu       sync.Mutex
	history  []CommentEntry
	fetches  []string // cursors requested
	posts    int
	fetchErr error
	postErr  error
	hold     chan struct{}
	overlap  int // extra already-seen entries returned with older pages
	live     chan CommentEntry
	nextID   int
}

func newFakeComments(n int) *fakeComments {
	c := &fakeComments{live: make(chan CommentEntry, 16)}
	for i := 1; i <= n; i++ {
		c.history = append(c.history, CommentEntry{
			ID:         fmt.Sprintf("c%03d", i),
			AuthorID:   "u1",
			AuthorName: "fan",
			Text:       fmt.Sprintf("comment %d", i),
			CreatedAt:  int64(i) * 1000,
		})
	}
	c.nextID = n
	return c
}

func (c *fakeComments) FetchPage(ctx context.Context, matchID MatchID, before string, limit int) (CommentPage, error) {
	c.mu.Lock()
	c.fetches = append(c.fetches, before)
	hold := c.hold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return CommentPage{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return CommentPage{}, c.fetchErr
	}

	end := len(c.history)
	if before != "" {
		end = sort.Search(len(c.history), func(i int) bool { return c.history[i].ID >= before })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := append([]CommentEntry(nil), c.history[start:end]...)
	if before != "" && c.overlap > 0 {
		extra := end + c.overlap
		if extra > len(c.history) {
			extra = len(c.history)
		}
		page = append(page, c.history[end:extra]...)
	}
	out := CommentPage{Entries: page, HasMore: start > 0}
	if len(page) > 0 {
		out.NextCursor = c.history[start].ID
	}
	return out, nil
}

func (c *fakeComments) Post(ctx context.Context, matchID MatchID, draft CommentDraft) (CommentEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts++
	if c.postErr != nil {
		return CommentEntry{}, c.postErr
	}
	c.nextID++
	e := CommentEntry{
		ID:         fmt.Sprintf("c%03d", c.nextID),
		AuthorID:   draft.AuthorID,
		AuthorName: draft.AuthorName,
		Text:       draft.Text,
		CreatedAt:  int64(c.nextID) * 1000,
	}
	c.history = append(c.history, e)
	return e, nil
}

func (c *fakeComments) Subscribe(ctx context.Context, matchID MatchID) (<-chan CommentEntry, error) {
	out := make(chan CommentEntry)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-c.live:
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *fakeComments) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fetches)
}

func (c *fakeComments) postCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posts
}

func (c *fakeComments) setHold(ch chan struct{}) {
	c.mu.Lock()
	c.hold = ch
	c.mu.Unlock()
}

func (c *fakeComments) setFetchErr(err error) {
	c.mu.Lock()
	c.fetchErr = err
	c.mu.Unlock()
}

func (c *fakeComments) setPostErr(err error) {
	c.mu.Lock()
	c.postErr = err
	c.mu.Unlock()
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertTimeline(t *testing.T, entries []CommentEntry) {
	t.Helper()
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if seen[e.ID] {
			t.Fatalf("duplicate entry %s at %d", e.ID, i)
		}
		seen[e.ID] = true
		if i > 0 && entries[i-1].CreatedAt > e.CreatedAt {
			t.Fatalf("entries out of order at %d: %d > %d", i, entries[i-1].CreatedAt, e.CreatedAt)
		}
	}
}

// pubsubComments delivers posts to every subscription registered before
// the post, like a broadcast channel would. afterFetch runs once, right
// after the first page has been read.
type pubsubComments struct {
	*fakeComments

	subMu      sync.Mutex
	subs       []chan CommentEntry
	afterFetch func()
	once       sync.Once
}

func (c *pubsubComments) FetchPage(ctx context.Context, matchID MatchID, before string, limit int) (CommentPage, error) {
	page, err := c.fakeComments.FetchPage(ctx, matchID, before, limit)
	if c.afterFetch != nil {
		c.once.Do(c.afterFetch)
	}
	return page, err
}

func (c *pubsubComments) Post(ctx context.Context, matchID MatchID, draft CommentDraft) (CommentEntry, error) {
	e, err := c.fakeComments.Post(ctx, matchID, draft)
	if err != nil {
		return e, err
	}
	c.subMu.Lock()
	for _, ch := range c.subs {
		ch <- e
	}
	c.subMu.Unlock()
	return e, nil
}

func (c *pubsubComments) Subscribe(ctx context.Context, matchID MatchID) (<-chan CommentEntry, error) {
	in := make(chan CommentEntry, 16)
	c.subMu.Lock()
	c.subs = append(c.subs, in)
	c.subMu.Unlock()

	out := make(chan CommentEntry)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-in:
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
