package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"matchlive/internal/session"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps comments in Redis so several server instances share one
// timeline per match. Each match uses a sorted set of ids scored by creation
// time, a hash of id to JSON entry and a pub/sub channel for live comments.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// NewRedisStore returns a store using client. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "matchlive"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, log: log, now: time.Now}
}

func (s *RedisStore) indexKey(id session.MatchID) string {
	return fmt.Sprintf("%s:comments:%s:index", s.prefix, id)
}

func (s *RedisStore) entriesKey(id session.MatchID) string {
	return fmt.Sprintf("%s:comments:%s:entries", s.prefix, id)
}

func (s *RedisStore) channel(id session.MatchID) string {
	return fmt.Sprintf("%s:comments:%s:live", s.prefix, id)
}

// FetchPage implements session.CommentBackend.
func (s *RedisStore) FetchPage(ctx context.Context, matchID session.MatchID, before string, limit int) (session.CommentPage, error) {
	if limit <= 0 {
		limit = session.DefaultPageSize
	}
	index := s.indexKey(matchID)

	// ranks count from the newest entry
	var first int64
	if before != "" {
		rank, err := s.client.ZRevRank(ctx, index, before).Result()
		if errors.Is(err, redis.Nil) {
			return session.CommentPage{}, ErrCommentNotFound
		}
		if err != nil {
			return session.CommentPage{}, fmt.Errorf("locate cursor: %w", err)
		}
		first = rank + 1
	}

	ids, err := s.client.ZRevRange(ctx, index, first, first+int64(limit)-1).Result()
	if err != nil {
		return session.CommentPage{}, fmt.Errorf("read comment index: %w", err)
	}
	total, err := s.client.ZCard(ctx, index).Result()
	if err != nil {
		return session.CommentPage{}, fmt.Errorf("count comments: %w", err)
	}
	if len(ids) == 0 {
		return session.CommentPage{}, nil
	}

	raw, err := s.client.HMGet(ctx, s.entriesKey(matchID), ids...).Result()
	if err != nil {
		return session.CommentPage{}, fmt.Errorf("read comments: %w", err)
	}

	entries := make([]session.CommentEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		str, ok := raw[i].(string)
		if !ok {
			s.log.Warn("comment indexed without entry", slog.String("comment_id", ids[i]))
			continue
		}
		var e session.CommentEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			s.log.Warn("undecodable comment skipped", slog.String("comment_id", ids[i]),
				slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, e)
	}

	page := session.CommentPage{
		Entries: entries,
		HasMore: first+int64(len(ids)) < total,
	}
	page.NextCursor = ids[len(ids)-1]
	return page, nil
}

// Post implements session.CommentBackend. The entry is stored atomically and
// then published to live subscribers.
func (s *RedisStore) Post(ctx context.Context, matchID session.MatchID, draft session.CommentDraft) (session.CommentEntry, error) {
	text := strings.TrimSpace(draft.Text)
	if text == "" {
		return session.CommentEntry{}, session.ErrEmptyComment
	}

	entry := session.CommentEntry{
		ID:             uuid.NewString(),
		AuthorID:       draft.AuthorID,
		AuthorName:     draft.AuthorName,
		AuthorImageURL: draft.AuthorImageURL,
		Text:           text,
		CreatedAt:      s.now().UnixMilli(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return session.CommentEntry{}, fmt.Errorf("encode comment: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey(matchID), entry.ID, data)
		pipe.ZAdd(ctx, s.indexKey(matchID), redis.Z{Score: float64(entry.CreatedAt), Member: entry.ID})
		return nil
	})
	if err != nil {
		return session.CommentEntry{}, fmt.Errorf("store comment: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel(matchID), data).Err(); err != nil {
		// stored but not broadcast; readers still see it on the next page load
		s.log.Warn("publish comment failed", slog.String("match_id", string(matchID)),
			slog.String("error", err.Error()))
	}
	return entry, nil
}

// Subscribe implements session.CommentBackend. It returns once the
// subscription is active, so every comment posted afterwards is delivered.
func (s *RedisStore) Subscribe(ctx context.Context, matchID session.MatchID) (<-chan session.CommentEntry, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(matchID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to live comments: %w", err)
	}

	out := make(chan session.CommentEntry)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e session.CommentEntry
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					s.log.Warn("undecodable live comment", slog.String("error", err.Error()))
					continue
				}
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

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
