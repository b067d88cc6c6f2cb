// Package coordinator drives chat and image requests against the relay. At
// most one request per kind is in flight; starting another cancels it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/studio-relay/internal/chat"
	"github.com/ashureev/studio-relay/internal/decoder"
	"github.com/ashureev/studio-relay/internal/domain"
	"github.com/ashureev/studio-relay/internal/history"
)

// FailureNotice is appended as the assistant reply when a chat request fails.
const FailureNotice = "❌ Sorry, I encountered an error. Please try again."

const readBufferSize = 4 << 10

var (
	// ErrSuperseded is returned by a request that was canceled by a newer
	// request of the same kind or by Cancel. Its output has been discarded.
	ErrSuperseded = errors.New("request superseded")

	// ErrUpstream wraps failures reaching the relay or reading its stream.
	ErrUpstream = errors.New("upstream request failed")
)

// Kind identifies a request lane.
type Kind int

// Request kinds.
const (
	KindChat Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "chat"
}

type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

// ImageResult describes a finished generation.
type ImageResult struct {
	// DataURI is the image as returned by the relay.
	DataURI string
	// Entry is the recorded history entry; zero when Recorded is false.
	Entry    domain.HistoryEntry
	Recorded bool
}

// Coordinator ties the relay client to the message and history stores.
type Coordinator struct {
	client   *Client
	messages *chat.Store
	history  *history.Store

	mu        sync.Mutex
	seq       uint64
	active    map[Kind]*inflight
	lastImage string
}

// New creates a Coordinator.
func New(client *Client, messages *chat.Store, hist *history.Store) *Coordinator {
	return &Coordinator{
		client:   client,
		messages: messages,
		history:  hist,
		active:   make(map[Kind]*inflight),
	}
}

// Cancel aborts the in-flight request of kind, if any.
func (c *Coordinator) Cancel(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.active[kind]; a != nil {
		a.cancel()
		delete(c.active, kind)
	}
}

// Chat records message, streams the reply through onDelta and records the
// reply once complete. Blank replies are not recorded. On failure the
// failure notice is recorded instead; a superseded request records nothing.
func (c *Coordinator) Chat(ctx context.Context, message string, onDelta func(string)) (string, error) {
	reqCtx, gen, done := c.begin(ctx, KindChat)
	defer done()

	c.messages.Append(ctx, domain.StoredMessage{Role: domain.RoleUser, Content: message})

	body, err := c.client.StreamChat(reqCtx, message)
	if err != nil {
		return "", c.failChat(ctx, gen, err)
	}
	defer body.Close()

	dec := decoder.New()
	var reply strings.Builder
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if !c.isCurrent(KindChat, gen) {
				return "", ErrSuperseded
			}
			if delta := dec.Decode(buf[:n]); delta != "" {
				reply.WriteString(delta)
				if onDelta != nil {
					onDelta(delta)
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", c.failChat(ctx, gen, readErr)
		}
	}
	if delta := dec.Flush(); delta != "" {
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if pending := dec.Pending(); pending != "" {
		slog.Debug("Discarding unresolved stream tail", "bytes", len(pending))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(KindChat, gen) {
		return "", ErrSuperseded
	}
	text := reply.String()
	if strings.TrimSpace(text) != "" {
		c.messages.Append(ctx, domain.StoredMessage{Role: domain.RoleAssistant, Content: text})
	}
	return text, nil
}

// GenerateImage requests an image, compresses it and records it in history.
// A result identical to the last recorded image, or to the newest history
// entry, is returned unrecorded.
// Compression failures are returned and nothing is recorded.
func (c *Coordinator) GenerateImage(ctx context.Context, prompt string, steps int) (ImageResult, error) {
	reqCtx, gen, done := c.begin(ctx, KindImage)
	defer done()

	dataURI, err := c.client.GenerateImage(reqCtx, prompt, steps)
	if err != nil {
		if !c.isCurrent(KindImage, gen) || ctx.Err() != nil {
			return ImageResult{}, ErrSuperseded
		}
		return ImageResult{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	c.mu.Lock()
	duplicate := dataURI == c.lastImage
	c.mu.Unlock()
	if duplicate {
		return ImageResult{DataURI: dataURI}, nil
	}

	compressed, err := history.Compress(dataURI)
	if err != nil {
		return ImageResult{}, fmt.Errorf("compress image: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(KindImage, gen) {
		return ImageResult{}, ErrSuperseded
	}
	c.lastImage = dataURI
	// Compression is deterministic, so a repeat of the newest persisted image
	// is caught after a restart too.
	if latest := c.history.Entries(); len(latest) > 0 && latest[0].ImageURI == compressed {
		return ImageResult{DataURI: dataURI}, nil
	}
	entry := c.history.Record(ctx, prompt, compressed, steps)
	return ImageResult{DataURI: dataURI, Entry: entry, Recorded: true}, nil
}

// begin registers a new request of kind, canceling its predecessor.
func (c *Coordinator) begin(ctx context.Context, kind Kind) (context.Context, uint64, func()) {
	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if prev := c.active[kind]; prev != nil {
		prev.cancel()
		slog.Debug("Superseding in-flight request", "kind", kind, "gen", prev.gen)
	}
	c.seq++
	gen := c.seq
	c.active[kind] = &inflight{gen: gen, cancel: cancel}
	c.mu.Unlock()

	return reqCtx, gen, func() {
		c.mu.Lock()
		if a := c.active[kind]; a != nil && a.gen == gen {
			delete(c.active, kind)
		}
		c.mu.Unlock()
		cancel()
	}
}

func (c *Coordinator) isCurrent(kind Kind, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCurrentLocked(kind, gen)
}

func (c *Coordinator) isCurrentLocked(kind Kind, gen uint64) bool {
	a := c.active[kind]
	return a != nil && a.gen == gen
}

// failChat classifies a chat failure. Superseded and caller-canceled requests
// are silent; anything else records the failure notice.
func (c *Coordinator) failChat(ctx context.Context, gen uint64, err error) error {
	if !c.isCurrent(KindChat, gen) || ctx.Err() != nil {
		return ErrSuperseded
	}
	slog.Error("Chat request failed", "error", err)
	c.messages.Append(ctx, domain.StoredMessage{Role: domain.RoleAssistant, Content: FailureNotice})
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
