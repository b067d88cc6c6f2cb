package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/studio-relay/internal/chat"
	"github.com/ashureev/studio-relay/internal/coordinator"
	"github.com/ashureev/studio-relay/internal/history"
	"github.com/ashureev/studio-relay/internal/store"
)

// session is the client state for one command invocation.
type session struct {
	kv          store.KV
	messages    *chat.Store
	history     *history.Store
	coordinator *coordinator.Coordinator
}

func openSession(ctx context.Context, opts *options) (*session, error) {
	kv, err := store.Open(opts.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", opts.cfg.Store.Backend, err)
	}

	messages := chat.NewStore(kv)
	messages.Hydrate(ctx)

	hist := history.NewStore(kv)
	hist.Load(ctx)

	client := coordinator.NewClient(opts.cfg.Client.RelayURL, nil)
	return &session{
		kv:          kv,
		messages:    messages,
		history:     hist,
		coordinator: coordinator.New(client, messages, hist),
	}, nil
}

func (s *session) Close() {
	if err := s.kv.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}
