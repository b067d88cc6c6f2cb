package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Inference service methods. Requests are google.protobuf.Struct, responses
// google.protobuf.BytesValue.
const (
	ChatMethod  = "/studio.inference.v1.Inference/Chat"
	ImageMethod = "/studio.inference.v1.Inference/GenerateImage"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

var chatStreamDesc = &grpc.StreamDesc{
	StreamName:    "Chat",
	ServerStreams: true,
}

// GrpcProvider reaches an inference service over gRPC.
type GrpcProvider struct {
	conn       *grpc.ClientConn
	addr       string
	chatModel  string
	imageModel string
	logger     *slog.Logger
}

// GrpcProviderConfig holds connection settings for the gRPC provider.
type GrpcProviderConfig struct {
	Address          string
	ChatModel        string
	ImageModel       string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcProviderConfig returns default connection settings.
func DefaultGrpcProviderConfig() GrpcProviderConfig {
	return GrpcProviderConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcProvider connects to the inference service and waits until the
// connection is ready. Extra dial options are appended to the defaults.
func NewGrpcProvider(cfg GrpcProviderConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to inference service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("inference service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to inference service", "address", cfg.Address)

	return &GrpcProvider{
		conn:       conn,
		addr:       cfg.Address,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		logger:     logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (p *GrpcProvider) Close() {
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Chat opens a server stream and exposes the received chunks as a reader.
func (p *GrpcProvider) Chat(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	turns := make([]any, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	req, err := structpb.NewStruct(map[string]any{
		"model":    p.chatModel,
		"messages": turns,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := p.conn.NewStream(ctx, chatStreamDesc, ChatMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("close chat send: %w", err)
	}

	return &streamReader{stream: stream, cancel: cancel}, nil
}

// GenerateImage performs a unary call and base64-encodes the returned bytes.
func (p *GrpcProvider) GenerateImage(ctx context.Context, prompt string, steps int) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"model":  p.imageModel,
		"prompt": prompt,
		"steps":  steps,
	})
	if err != nil {
		return "", fmt.Errorf("encode image request: %w", err)
	}

	resp := &wrapperspb.BytesValue{}
	if err := p.conn.Invoke(ctx, ImageMethod, req, resp); err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	if len(resp.GetValue()) == 0 {
		return "", ErrEmptyImage
	}
	return base64.StdEncoding.EncodeToString(resp.GetValue()), nil
}

// streamReader adapts a server stream of BytesValue messages to io.Reader.
// Each Read returns data from at most one message.
type streamReader struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	buf    []byte
}

func (r *streamReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		msg := &wrapperspb.BytesValue{}
		if err := r.stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("chat stream error: %w", err)
		}
		r.buf = msg.GetValue()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *streamReader) Close() error {
	r.cancel()
	return nil
}
