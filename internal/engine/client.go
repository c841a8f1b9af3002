package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"inkwell/internal/monitor"
)

const (
	streamMethod = "/inkwell.engine.Generation/GenerateStream"
	unaryMethod  = "/inkwell.engine.Generation/Generate"
)

var streamDesc = grpc.StreamDesc{
	StreamName:    "GenerateStream",
	ServerStreams: true,
}

var _ Engine = (*Client)(nil)

type ClientConfig struct {
	Addr             string
	StreamingEnabled bool
	RequestTimeout   time.Duration
}

// Client talks to the external generation engine. The engine's contract is
// loosely typed, so requests and responses travel as structpb values over a
// cached keepalive connection.
type Client struct {
	mu     sync.Mutex
	conn   *grpc.ClientConn
	config ClientConfig
	logger *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("component", "engine"),
	}
}

func (c *Client) getConn() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.GetState() != connectivity.Shutdown {
		return c.conn, nil
	}

	c.logger.Info("Dialing generation engine", "addr", c.config.Addr)
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(c.config.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine: %w", err)
	}

	c.conn = conn
	return conn, nil
}

func (c *Client) StreamGenerate(ctx context.Context, req Request, onChunk func(Chunk)) (*Result, error) {
	if !c.config.StreamingEnabled {
		return nil, ErrStreamingUnavailable
	}

	conn, err := c.getConn()
	if err != nil {
		monitor.EngineErrorsTotal.Inc()
		return nil, err
	}

	msg, err := requestStruct(req)
	if err != nil {
		return nil, err
	}

	stream, err := conn.NewStream(ctx, &streamDesc, streamMethod)
	if err != nil {
		c.logger.Warn("Failed to open generation stream, signalling fallback",
			"session_id", req.SessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStreamingUnavailable, err)
	}

	if err := stream.SendMsg(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamingUnavailable, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send: %w", err)
	}

	monitor.EngineStreamsTotal.Inc()

	var result Result
	index := 0
	for {
		resp := new(structpb.Struct)
		err := stream.RecvMsg(resp)
		if errors.Is(err, io.EOF) {
			return &result, nil
		}
		if err != nil {
			// ctx 取消（会话被替换/取消）不计为引擎错误
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			monitor.EngineErrorsTotal.Inc()
			return nil, fmt.Errorf("generation stream error: %w", err)
		}

		fields := resp.AsMap()
		if text, ok := fields["text"].(string); ok && text != "" {
			result.Content += text
			onChunk(Chunk{Index: index, Text: text})
			index++
		}
		if content, ok := fields["content"].(string); ok && content != "" {
			result.Content = content
		}
		if hash, ok := fields["diff_hash"].(string); ok && hash != "" {
			result.DiffHash = hash
		}
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	conn, err := c.getConn()
	if err != nil {
		monitor.EngineErrorsTotal.Inc()
		return nil, err
	}

	msg, err := requestStruct(req)
	if err != nil {
		return nil, err
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, unaryMethod, msg, resp); err != nil {
		if ctx.Err() == nil {
			monitor.EngineErrorsTotal.Inc()
		}
		return nil, fmt.Errorf("generation call failed: %w", err)
	}

	monitor.EngineFallbacksTotal.Inc()

	fields := resp.AsMap()
	result := &Result{}
	if content, ok := fields["content"].(string); ok {
		result.Content = content
	}
	if hash, ok := fields["diff_hash"].(string); ok {
		result.DiffHash = hash
	}
	return result, nil
}

func (c *Client) StreamingEnabled() bool {
	return c.config.StreamingEnabled
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func requestStruct(req Request) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"session_id":  req.SessionID,
		"document_id": req.DocumentID,
		"section_id":  req.SectionID,
		"author_id":   req.AuthorID,
		"intent":      req.Intent,
		"prompt":      req.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine request: %w", err)
	}
	return msg, nil
}
