package live

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"matchlive/internal/backend/comments"
	"matchlive/internal/backend/player"
	"matchlive/internal/backend/stream"
	"matchlive/internal/session"
)

const testMaster = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
720p/index.m3u8
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newCDN serves a master playlist for every match except "offline".
func newCDN(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/live/offline/") || !strings.HasSuffix(r.URL.Path, "/master.m3u8") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = io.WriteString(w, testMaster)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	svc   *Service
	store *comments.MemoryStore
	cdn   *httptest.Server
}

// newTestService wires the real backends against an httptest CDN.
func newTestService(t *testing.T) *testEnv {
	t.Helper()
	log := discardLogger()
	cdn := newCDN(t)

	resolver, err := stream.NewTemplateResolver(cdn.URL+"/live/{match}/master.m3u8",
		stream.WithProbe(cdn.Client()), stream.WithLogger(log))
	if err != nil {
		t.Fatalf("NewTemplateResolver: %v", err)
	}
	store := comments.NewMemoryStore(log)

	svc := NewService(Config{
		Resolver:       resolver,
		Comments:       store,
		Players:        player.Factory(cdn.Client(), log),
		PageSize:       20,
		ResolveTimeout: 2 * time.Second,
		CommentTimeout: 2 * time.Second,
		HideDelay:      time.Hour,
		Logger:         log,
	}, NewRegistry())
	t.Cleanup(svc.Shutdown)
	return &testEnv{svc: svc, store: store, cdn: cdn}
}

func newTestRouter(h *Handler, intentLimit int) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r, intentLimit)
	return r
}

// waitState polls the session until ok accepts its state.
func waitState(t *testing.T, o *session.Orchestrator, ok func(session.SessionState) bool) session.SessionState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st := o.State(); ok(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never matched, last %+v", o.State())
	return session.SessionState{}
}

func phaseIs(p session.Phase) func(session.SessionState) bool {
	return func(st session.SessionState) bool { return st.Playback.Phase == p }
}
