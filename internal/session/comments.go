package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"matchlive/internal/platform/metrics"
)

// DefaultPageSize is the number of comments fetched per page.
const DefaultPageSize = 20

// CommentFeed keeps one match's comment timeline: the initial snapshot,
// older pages, posted comments and the live feed merged into a single
// chronological, duplicate-free list.
//
// A CommentFeed is not safe for concurrent use. Backend calls run on their
// own goroutines and hand their results back through schedule, which must
// serialize them with every other call on the feed.
type CommentFeed struct {
	backend  CommentBackend
	schedule func(func()) bool
	emit     func(Event)
	log      *slog.Logger
	metrics  *metrics.Metrics
	author   Author
	timeout  time.Duration
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc

	matchID MatchID
	state   CommentFeedState
	ids     map[string]struct{}

	// liveReady is closed once the current Subscribe call has returned.
	liveReady chan struct{}

	initial, older, posting, live operation
}

// operation tracks one kind of in-flight backend call. seq invalidates
// results of calls that were cancelled or superseded.
type operation struct {
	seq    uint64
	cancel context.CancelFunc
}

func (op *operation) start(parent context.Context, timeout time.Duration) (context.Context, uint64) {
	op.stop()
	var ctx context.Context
	if timeout > 0 {
		ctx, op.cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, op.cancel = context.WithCancel(parent)
	}
	return ctx, op.seq
}

func (op *operation) stop() {
	if op.cancel != nil {
		op.cancel()
		op.cancel = nil
	}
	op.seq++
}

func (op *operation) current(seq uint64) bool {
	return op.cancel != nil && op.seq == seq
}

func (op *operation) finish() {
	if op.cancel != nil {
		op.cancel()
		op.cancel = nil
	}
}

// FeedConfig configures a CommentFeed.
type FeedConfig struct {
	Author   Author
	PageSize int
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewCommentFeed returns an empty feed. schedule runs completions on the
// owner's goroutine and reports false once the owner is gone; emit receives
// one-shot events.
func NewCommentFeed(backend CommentBackend, schedule func(func()) bool, emit func(Event), cfg FeedConfig) *CommentFeed {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CommentFeed{
		backend:  backend,
		schedule: schedule,
		emit:     emit,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		author:   cfg.Author,
		timeout:  cfg.Timeout,
		pageSize: cfg.PageSize,
		ctx:      ctx,
		cancel:   cancel,
		ids:      make(map[string]struct{}),
	}
}

// State returns a copy of the feed state.
func (f *CommentFeed) State() CommentFeedState { return f.state.clone() }

// Busy reports whether an initial or older page load is in flight.
func (f *CommentFeed) Busy() bool { return f.state.busy() }

// MatchID returns the match the feed is bound to.
func (f *CommentFeed) MatchID() MatchID { return f.matchID }

// LoadInitial replaces the timeline with the newest page of matchID. It is a
// no-op while another initial load is in flight, and it cancels a running
// older-page load. The live feed is started on first use, and the page is
// only fetched once the subscription is in place, so a comment posted
// between the two reaches the timeline through one or the other.
func (f *CommentFeed) LoadInitial(matchID MatchID, pageSize int) bool {
	if f.state.IsLoadingInitial {
		f.log.Debug("initial comment load already in flight")
		return false
	}
	if matchID != f.matchID {
		f.live.stop()
		f.matchID = matchID
	}
	if pageSize > 0 {
		f.pageSize = pageSize
	}
	f.cancelOlder()

	f.state.IsLoadingInitial = true
	f.state.InitialError = ""

	f.startLive()
	ready := f.liveReady

	ctx, seq := f.initial.start(f.ctx, f.timeout)
	limit := f.pageSize
	go func() {
		var page CommentPage
		var err error
		select {
		case <-ready:
			page, err = f.backend.FetchPage(ctx, matchID, "", limit)
		case <-ctx.Done():
			err = ctx.Err()
		}
		f.schedule(func() { f.finishInitial(seq, limit, page, err) })
	}()
	return true
}

func (f *CommentFeed) finishInitial(seq uint64, limit int, page CommentPage, err error) {
	if !f.initial.current(seq) {
		return
	}
	f.initial.finish()
	f.state.IsLoadingInitial = false

	if err != nil {
		f.fail("initial", &f.state.InitialError, "load comments", err)
		return
	}
	f.metrics.IncCommentOp("initial", "ok")

	// keep live entries newer than the snapshot
	var keep []CommentEntry
	newest := newestOf(page.Entries)
	for _, e := range f.state.Entries {
		if e.CreatedAt > newest {
			keep = append(keep, e)
		}
	}
	f.state.Entries = nil
	f.ids = make(map[string]struct{})
	f.merge(page.Entries, true)
	f.merge(keep, false)

	f.state.HasMoreOlder = len(page.Entries) >= limit && page.HasMore
	f.state.OldestCursorKey = cursorOf(page)
}

// LoadOlder prepends the page preceding the oldest known entry. It is a
// no-op while any other load or a post is in flight, or when the start of
// the timeline has been reached.
func (f *CommentFeed) LoadOlder() bool {
	var reason string
	switch {
	case f.state.IsLoadingOlder:
		reason = "older load in flight"
	case f.state.IsLoadingInitial:
		reason = "initial load in flight"
	case f.state.IsPosting:
		reason = "post in flight"
	case !f.state.HasMoreOlder:
		reason = "no older comments"
	}
	if reason != "" {
		f.log.Debug("load older comments skipped", slog.String("reason", reason))
		return false
	}

	f.state.IsLoadingOlder = true
	f.state.OlderError = ""

	ctx, seq := f.older.start(f.ctx, f.timeout)
	matchID, cursor, limit := f.matchID, f.state.OldestCursorKey, f.pageSize
	go func() {
		page, err := f.backend.FetchPage(ctx, matchID, cursor, limit)
		f.schedule(func() { f.finishOlder(seq, limit, page, err) })
	}()
	return true
}

func (f *CommentFeed) finishOlder(seq uint64, limit int, page CommentPage, err error) {
	if !f.older.current(seq) {
		return
	}
	f.older.finish()
	f.state.IsLoadingOlder = false

	if err != nil {
		f.fail("older", &f.state.OlderError, "load older comments", err)
		return
	}
	f.metrics.IncCommentOp("older", "ok")

	f.merge(page.Entries, true)
	f.state.HasMoreOlder = len(page.Entries) >= limit && page.HasMore
	if c := cursorOf(page); c != "" {
		f.state.OldestCursorKey = c
	}
}

// Post submits text as a new comment. Blank text is rejected with
// ErrEmptyComment before any backend call. Nothing is added locally until
// the backend acknowledges the comment.
func (f *CommentFeed) Post(text string) error {
	if isBlank(text) {
		f.state.PostError = ErrEmptyComment.Error()
		f.metrics.IncCommentOp("post", "invalid")
		f.emit(Event{Kind: EventShowError, Message: ErrEmptyComment.Error()})
		return ErrEmptyComment
	}
	if f.state.IsPosting {
		f.log.Debug("post skipped, another post in flight")
		return nil
	}

	f.state.IsPosting = true
	f.state.PostError = ""

	ctx, seq := f.posting.start(f.ctx, f.timeout)
	matchID := f.matchID
	draft := CommentDraft{
		AuthorID:       f.author.ID,
		AuthorName:     f.author.Name,
		AuthorImageURL: f.author.ImageURL,
		Text:           strings.TrimSpace(text),
	}
	go func() {
		entry, err := f.backend.Post(ctx, matchID, draft)
		f.schedule(func() { f.finishPost(seq, entry, err) })
	}()
	return nil
}

func (f *CommentFeed) finishPost(seq uint64, entry CommentEntry, err error) {
	if !f.posting.current(seq) {
		return
	}
	f.posting.finish()
	f.state.IsPosting = false

	if err != nil {
		f.fail("post", &f.state.PostError, "post comment", err)
		return
	}
	f.metrics.IncCommentOp("post", "ok")

	f.merge([]CommentEntry{entry}, false)
	f.emit(Event{Kind: EventScrollToBottom})
	f.emit(Event{Kind: EventCommentPosted, Comment: &entry})
}

// Refresh clears the timeline, cancels running loads and loads the newest
// page again.
func (f *CommentFeed) Refresh() bool {
	f.initial.stop()
	f.cancelOlder()
	f.state.IsLoadingInitial = false
	f.state.Entries = nil
	f.ids = make(map[string]struct{})
	f.state.HasMoreOlder = false
	f.state.OldestCursorKey = ""
	f.state.InitialError = ""
	f.state.OlderError = ""
	return f.LoadInitial(f.matchID, f.pageSize)
}

// DismissErrors clears every operation-scoped error.
func (f *CommentFeed) DismissErrors() {
	f.state.InitialError = ""
	f.state.OlderError = ""
	f.state.PostError = ""
}

// Reset cancels all work and binds the feed to matchID with an empty timeline.
func (f *CommentFeed) Reset(matchID MatchID) {
	f.initial.stop()
	f.older.stop()
	f.posting.stop()
	f.live.stop()
	f.matchID = matchID
	f.state = CommentFeedState{}
	f.ids = make(map[string]struct{})
}

// Close cancels all outstanding backend calls and the live feed.
func (f *CommentFeed) Close() {
	f.initial.stop()
	f.older.stop()
	f.posting.stop()
	f.live.stop()
	f.cancel()
}

func (f *CommentFeed) cancelOlder() {
	if f.state.IsLoadingOlder {
		f.log.Debug("cancelling older comment load")
	}
	f.older.stop()
	f.state.IsLoadingOlder = false
}

func (f *CommentFeed) startLive() {
	if f.live.cancel != nil {
		return
	}
	ctx, seq := f.live.start(f.ctx, 0)
	matchID := f.matchID
	ready := make(chan struct{})
	f.liveReady = ready
	go func() {
		ch, err := f.backend.Subscribe(ctx, matchID)
		close(ready)
		if err != nil {
			f.schedule(func() {
				if f.live.current(seq) {
					f.live.finish()
					f.log.Warn("live comments unavailable", slog.String("error", err.Error()))
				}
			})
			return
		}
		for entry := range ch {
			e := entry
			if !f.schedule(func() { f.receiveLive(seq, e) }) {
				return
			}
		}
	}()
}

func (f *CommentFeed) receiveLive(seq uint64, e CommentEntry) {
	if !f.live.current(seq) {
		return
	}
	f.merge([]CommentEntry{e}, false)
}

func (f *CommentFeed) fail(op string, field *string, what string, err error) {
	msg := fmt.Sprintf("%s: %v", what, err)
	*field = msg
	f.metrics.IncCommentOp(op, "error")
	f.log.Warn("comment operation failed", slog.String("op", op), slog.String("error", err.Error()))
	f.emit(Event{Kind: EventShowError, Message: msg})
}

// merge adds the entries whose id is not yet known and keeps the timeline
// sorted by creation time. Entries already present never move; older wins
// ties when prepending a page, existing wins ties otherwise.
func (f *CommentFeed) merge(in []CommentEntry, older bool) int {
	fresh := make([]CommentEntry, 0, len(in))
	for _, e := range in {
		if _, dup := f.ids[e.ID]; dup {
			continue
		}
		f.ids[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return 0
	}

	var all []CommentEntry
	if older {
		all = append(fresh, f.state.Entries...)
	} else {
		all = append(append(make([]CommentEntry, 0, len(f.state.Entries)+len(fresh)), f.state.Entries...), fresh...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })
	f.state.Entries = all
	return len(fresh)
}

func newestOf(entries []CommentEntry) int64 {
	var newest int64
	for _, e := range entries {
		if e.CreatedAt > newest {
			newest = e.CreatedAt
		}
	}
	return newest
}

func cursorOf(page CommentPage) string {
	if page.NextCursor != "" {
		return page.NextCursor
	}
	if len(page.Entries) == 0 {
		return ""
	}
	oldest := page.Entries[0]
	for _, e := range page.Entries[1:] {
		if e.CreatedAt < oldest.CreatedAt {
			oldest = e
		}
	}
	return oldest.ID
}
