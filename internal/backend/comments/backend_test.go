package comments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"matchlive/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock advances one second per reading so creation times never tie.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newMemoryBackend(t *testing.T) session.CommentBackend {
	s := NewMemoryStore(discardLogger())
	s.now = (&stepClock{t: time.Unix(1_700_000_000, 0)}).now
	return s
}

func newRedisBackend(t *testing.T) session.CommentBackend {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test", discardLogger())
	s.now = (&stepClock{t: time.Unix(1_700_000_000, 0)}).now
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var backends = []struct {
	name string
	new  func(t *testing.T) session.CommentBackend
}{
	{"memory", newMemoryBackend},
	{"redis", newRedisBackend},
}

func postN(t *testing.T, b session.CommentBackend, matchID session.MatchID, n int) []session.CommentEntry {
	t.Helper()
	out := make([]session.CommentEntry, 0, n)
	for i := 1; i <= n; i++ {
		e, err := b.Post(context.Background(), matchID, session.CommentDraft{
			AuthorID:   "u1",
			AuthorName: "fan",
			Text:       fmt.Sprintf("comment %d", i),
		})
		if err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

func ids(entries []session.CommentEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestBackend_paging(t *testing.T) {
	for _, bk := range backends {
		t.Run(bk.name, func(t *testing.T) {
			b := bk.new(t)
			ctx := context.Background()
			posted := postN(t, b, "m1", 45)

			page, err := b.FetchPage(ctx, "m1", "", 20)
			if err != nil {
				t.Fatalf("FetchPage newest: %v", err)
			}
			if diff := cmp.Diff(ids(posted[25:]), ids(page.Entries)); diff != "" {
				t.Errorf("newest page mismatch (-want +got):\n%s", diff)
			}
			if !page.HasMore || page.NextCursor != posted[25].ID {
				t.Errorf("expected more before %s, got %v %q", posted[25].ID, page.HasMore, page.NextCursor)
			}

			page, err = b.FetchPage(ctx, "m1", page.NextCursor, 20)
			if err != nil {
				t.Fatalf("FetchPage second: %v", err)
			}
			if diff := cmp.Diff(ids(posted[5:25]), ids(page.Entries)); diff != "" {
				t.Errorf("second page mismatch (-want +got):\n%s", diff)
			}
			if !page.HasMore {
				t.Error("expected more pages")
			}

			page, err = b.FetchPage(ctx, "m1", page.NextCursor, 20)
			if err != nil {
				t.Fatalf("FetchPage last: %v", err)
			}
			if diff := cmp.Diff(ids(posted[:5]), ids(page.Entries)); diff != "" {
				t.Errorf("last page mismatch (-want +got):\n%s", diff)
			}
			if page.HasMore {
				t.Error("expected the last page")
			}
		})
	}
}

func TestBackend_empty_and_unknown_cursor(t *testing.T) {
	for _, bk := range backends {
		t.Run(bk.name, func(t *testing.T) {
			b := bk.new(t)
			ctx := context.Background()

			page, err := b.FetchPage(ctx, "nobody", "", 20)
			if err != nil {
				t.Fatalf("FetchPage empty: %v", err)
			}
			if len(page.Entries) != 0 || page.HasMore {
				t.Errorf("expected empty page, got %+v", page)
			}

			postN(t, b, "m1", 3)
			if _, err := b.FetchPage(ctx, "m1", "missing-id", 20); !errors.Is(err, ErrCommentNotFound) {
				t.Errorf("expected ErrCommentNotFound, got %v", err)
			}
		})
	}
}

func TestBackend_Post(t *testing.T) {
	for _, bk := range backends {
		t.Run(bk.name, func(t *testing.T) {
			b := bk.new(t)
			ctx := context.Background()

			if _, err := b.Post(ctx, "m1", session.CommentDraft{Text: " \t "}); !errors.Is(err, session.ErrEmptyComment) {
				t.Errorf("expected ErrEmptyComment, got %v", err)
			}

			e, err := b.Post(ctx, "m1", session.CommentDraft{
				AuthorID:       "u9",
				AuthorName:     "Ana",
				AuthorImageURL: "https://img.example/ana.png",
				Text:           "  offside!  ",
			})
			if err != nil {
				t.Fatalf("Post: %v", err)
			}
			if e.ID == "" || e.CreatedAt == 0 {
				t.Errorf("entry should carry id and creation time: %+v", e)
			}
			if e.Text != "offside!" || e.AuthorName != "Ana" || e.AuthorImageURL == "" {
				t.Errorf("unexpected entry %+v", e)
			}

			page, err := b.FetchPage(ctx, "m1", "", 20)
			if err != nil {
				t.Fatalf("FetchPage: %v", err)
			}
			if diff := cmp.Diff([]session.CommentEntry{e}, page.Entries); diff != "" {
				t.Errorf("stored entry mismatch (-want +got):\n%s", diff)
			}

			other, _ := b.FetchPage(ctx, "m2", "", 20)
			if len(other.Entries) != 0 {
				t.Error("comments leaked into another match")
			}
		})
	}
}

func TestBackend_Subscribe(t *testing.T) {
	for _, bk := range backends {
		t.Run(bk.name, func(t *testing.T) {
			b := bk.new(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			live, err := b.Subscribe(ctx, "m1")
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			postN(t, b, "m2", 1)
			posted := postN(t, b, "m1", 1)[0]

			select {
			case got := <-live:
				if got.ID != posted.ID || got.Text != posted.Text {
					t.Errorf("expected %+v, got %+v", posted, got)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("live comment not delivered")
			}

			cancel()
			deadline := time.After(2 * time.Second)
			for {
				select {
				case _, ok := <-live:
					if !ok {
						return
					}
				case <-deadline:
					t.Fatal("live channel not closed after cancel")
				}
			}
		})
	}
}

func TestMemoryStore_slow_subscriber_does_not_block(t *testing.T) {
	s := NewMemoryStore(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Subscribe(ctx, "m1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		for i := 0; i < liveBuffer*2; i++ {
			if _, err := s.Post(context.Background(), "m1", session.CommentDraft{Text: "spam"}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked on a subscriber that never reads")
	}
	if n := s.Count("m1"); n != liveBuffer*2 {
		t.Errorf("expected %d comments, got %d", liveBuffer*2, n)
	}
}

func TestMemoryStore_creation_times_increase(t *testing.T) {
	s := NewMemoryStore(discardLogger())
	frozen := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return frozen }

	posted := postN(t, s, "m1", 3)
	for i := 1; i < len(posted); i++ {
		if posted[i].CreatedAt <= posted[i-1].CreatedAt {
			t.Fatalf("creation times not increasing: %d then %d", posted[i-1].CreatedAt, posted[i].CreatedAt)
		}
	}
}

func TestMemoryStore_Import(t *testing.T) {
	s := NewMemoryStore(discardLogger())
	s.Import("m1",
		session.CommentEntry{ID: "b", Text: "second", CreatedAt: 2},
		session.CommentEntry{ID: "a", Text: "first", CreatedAt: 1},
		session.CommentEntry{ID: "b", Text: "dup", CreatedAt: 2},
	)

	page, err := s.FetchPage(context.Background(), "m1", "", 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(page.Entries)); diff != "" {
		t.Errorf("import mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStore_cancelled_context(t *testing.T) {
	s := NewMemoryStore(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.FetchPage(ctx, "m1", "", 10); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := s.Post(ctx, "m1", session.CommentDraft{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	_ = client.Close()

	if _, err := NewRedisClient(context.Background(), RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("expected an error for an unreachable server")
	}
}
