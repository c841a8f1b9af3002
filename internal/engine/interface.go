package engine

import "context"

type Engine interface {
	// StreamGenerate blocks until generation finishes, invoking onChunk for
	// every incremental piece. Returns ErrStreamingUnavailable when the
	// streaming transport cannot serve the request.
	StreamGenerate(ctx context.Context, req Request, onChunk func(Chunk)) (*Result, error)
	// Generate is the synchronous fallback path.
	Generate(ctx context.Context, req Request) (*Result, error)
	// StreamingEnabled reports whether the streaming transport is configured
	// at all, so admission can advertise fallback delivery up front.
	StreamingEnabled() bool
	Close() error
}
