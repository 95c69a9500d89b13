// Package treesync converts workspace trees between storage and the JSON
// documents exchanged with clients, and reconciles client copies with the
// server.
package treesync

import (
	"context"

	"github.com/rs/zerolog"

	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/store"
)

const DefaultMaxTreeDepth = 64

type Options struct {
	// MainPageLayout stores top-level document content under an
	// auto-created main page instead of directly on the workspace.
	MainPageLayout bool
	MaxTreeDepth   int
	// OnCommit runs after a transaction that rebuilt ws has committed.
	OnCommit func(ctx context.Context, ws store.Workspace, doc document.Workspace)
}

type Engine struct {
	store Store
	codec *element.Codec
	log   zerolog.Logger
	opts  Options
}

func NewEngine(s Store, codec *element.Codec, logger zerolog.Logger, opts Options) *Engine {
	if opts.MaxTreeDepth <= 0 {
		opts.MaxTreeDepth = DefaultMaxTreeDepth
	}
	return &Engine{
		store: s,
		codec: codec,
		log:   logger.With().Str("component", "treesync").Logger(),
		opts:  opts,
	}
}

func (e *Engine) MainPageLayout() bool {
	return e.opts.MainPageLayout
}

// committed serializes every saved workspace after commit and hands each
// to OnCommit.
func (e *Engine) committed(ctx context.Context, saved []store.Workspace) {
	if e.opts.OnCommit == nil {
		return
	}
	for _, ws := range saved {
		doc, err := e.Serialize(ctx, ws)
		if err != nil {
			e.log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("serialize after commit failed")
			continue
		}
		e.opts.OnCommit(ctx, ws, doc)
	}
}
