package comments

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"matchlive/internal/session"
)

// ErrCommentNotFound is returned when a page cursor does not name a stored comment.
var ErrCommentNotFound = errors.New("comment not found")

const liveBuffer = 64

// timeline holds the comments of one match, oldest first.
type timeline struct {
	entries []session.CommentEntry
	index   map[string]struct{}
}

// MemoryStore is a concurrency-safe in-memory comment backend. Posted
// comments are fanned out to every live subscriber of the match.
type MemoryStore struct {
	mu        sync.RWMutex
	timelines map[session.MatchID]*timeline
	subs      map[session.MatchID]map[chan session.CommentEntry]struct{}

	log *slog.Logger
	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		timelines: make(map[session.MatchID]*timeline),
		subs:      make(map[session.MatchID]map[chan session.CommentEntry]struct{}),
		log:       log,
		now:       time.Now,
	}
}

// FetchPage implements session.CommentBackend.
func (s *MemoryStore) FetchPage(ctx context.Context, matchID session.MatchID, before string, limit int) (session.CommentPage, error) {
	if err := ctx.Err(); err != nil {
		return session.CommentPage{}, err
	}
	if limit <= 0 {
		limit = session.DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tl, ok := s.timelines[matchID]
	if !ok {
		if before != "" {
			return session.CommentPage{}, ErrCommentNotFound
		}
		return session.CommentPage{}, nil
	}

	end := len(tl.entries)
	if before != "" {
		end = -1
		for i, e := range tl.entries {
			if e.ID == before {
				end = i
				break
			}
		}
		if end < 0 {
			return session.CommentPage{}, ErrCommentNotFound
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := session.CommentPage{
		Entries: append([]session.CommentEntry(nil), tl.entries[start:end]...),
		HasMore: start > 0,
	}
	if len(page.Entries) > 0 {
		page.NextCursor = page.Entries[0].ID
	}
	return page, nil
}

// Post implements session.CommentBackend.
func (s *MemoryStore) Post(ctx context.Context, matchID session.MatchID, draft session.CommentDraft) (session.CommentEntry, error) {
	if err := ctx.Err(); err != nil {
		return session.CommentEntry{}, err
	}
	text := strings.TrimSpace(draft.Text)
	if text == "" {
		return session.CommentEntry{}, session.ErrEmptyComment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tl := s.timelineLocked(matchID)
	entry := session.CommentEntry{
		ID:             uuid.NewString(),
		AuthorID:       draft.AuthorID,
		AuthorName:     draft.AuthorName,
		AuthorImageURL: draft.AuthorImageURL,
		Text:           text,
		CreatedAt:      s.now().UnixMilli(),
	}
	// keep creation times strictly increasing within a match
	if n := len(tl.entries); n > 0 && entry.CreatedAt <= tl.entries[n-1].CreatedAt {
		entry.CreatedAt = tl.entries[n-1].CreatedAt + 1
	}
	tl.entries = append(tl.entries, entry)
	tl.index[entry.ID] = struct{}{}

	for ch := range s.subs[matchID] {
		select {
		case ch <- entry:
		default:
			s.log.Warn("live comment subscriber too slow, entry dropped",
				slog.String("match_id", string(matchID)), slog.String("comment_id", entry.ID))
		}
	}
	return entry, nil
}

// Subscribe implements session.CommentBackend.
func (s *MemoryStore) Subscribe(ctx context.Context, matchID session.MatchID) (<-chan session.CommentEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan session.CommentEntry, liveBuffer)

	s.mu.Lock()
	if s.subs[matchID] == nil {
		s.subs[matchID] = make(map[chan session.CommentEntry]struct{})
	}
	s.subs[matchID][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[matchID], ch)
		if len(s.subs[matchID]) == 0 {
			delete(s.subs, matchID)
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Import adds existing comments to a match, for seeding and migrations.
// Entries with a known id are skipped.
func (s *MemoryStore) Import(matchID session.MatchID, entries ...session.CommentEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl := s.timelineLocked(matchID)
	for _, e := range entries {
		if _, dup := tl.index[e.ID]; dup {
			continue
		}
		tl.index[e.ID] = struct{}{}
		tl.entries = append(tl.entries, e)
	}
	sort.SliceStable(tl.entries, func(i, j int) bool { return tl.entries[i].CreatedAt < tl.entries[j].CreatedAt })
}

// Count returns the number of comments stored for a match.
func (s *MemoryStore) Count(matchID session.MatchID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tl, ok := s.timelines[matchID]; ok {
		return len(tl.entries)
	}
	return 0
}

// timelineLocked returns the timeline of matchID, creating it if needed.
// Caller must hold s.mu in write mode.
func (s *MemoryStore) timelineLocked(matchID session.MatchID) *timeline {
	if tl, ok := s.timelines[matchID]; ok {
		return tl
	}
	tl := &timeline{index: make(map[string]struct{})}
	s.timelines[matchID] = tl
	return tl
}
