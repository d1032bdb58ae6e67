package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"matchlive/internal/backend/comments"
	"matchlive/internal/platform/config"
)

func TestNewCommentBackend(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, closeFn, err := newCommentBackend(ctx, config.Settings{CommentBackend: "memory"}, log)
		if err != nil {
			t.Fatalf("newCommentBackend: %v", err)
		}
		defer closeFn()
		if _, ok := b.(*comments.MemoryStore); !ok {
			t.Errorf("expected a memory store, got %T", b)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, closeFn, err := newCommentBackend(ctx, config.Settings{CommentBackend: "redis", RedisAddr: mr.Addr()}, log)
		if err != nil {
			t.Fatalf("newCommentBackend: %v", err)
		}
		defer closeFn()
		if _, ok := b.(*comments.RedisStore); !ok {
			t.Errorf("expected a redis store, got %T", b)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, _, err := newCommentBackend(ctx, config.Settings{CommentBackend: "kafka"}, log); err == nil {
			t.Error("expected an error for an unknown backend")
		}
	})
}
