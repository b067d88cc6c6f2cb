package decoder

import (
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/ashureev/studio-relay/internal/relay"
)

const cloudflareStream = "data: {\"response\":\"Hello\",\"p\":\"abc\"}\n\n" +
	"data: {\"response\":\" wor ld \"}\n\n" +
	"data: {\"response\":\"\",\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}\n\n" +
	"data: [DONE]\n\n"

// Upstream SSE framed a second time by the relay.
const nestedStream = "data: data: {\"response\":\"<think>\"}\n\n\n\n" +
	"data: data: {\"response\":\"a}b 12\"}\n\n\n\n" +
	"data: data: [DONE]\n\n\n\n" +
	"data: [DONE]\n\n"

const escapedStream = "data: {\"response\":\"line\\nbreak\"}\n\n" +
	"data: {\"response\":\"  \"}\n\n" +
	"data: {\"response\":\"x\"}\n\n"

func decodeAll(parts ...string) string {
	d := New()
	var out strings.Builder
	for _, p := range parts {
		out.WriteString(d.Decode([]byte(p)))
	}
	return out.String()
}

func TestDecodeWholeStream(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"cloudflare", cloudflareStream, "Hello wor ld "},
		{"nested prefixes", nestedStream, "<think>a}b 12"},
		{"escapes and whitespace", escapedStream, "line\nbreak  x"},
		{"empty", "", ""},
		{"only done", "data: [DONE]\n\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeAll(tt.stream); got != tt.want {
				t.Errorf("Decode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeSplitRecord(t *testing.T) {
	d := New()
	first := d.Decode([]byte(`data: {"respo`))
	if first != "" {
		t.Errorf("expected no output for a fragment, got %q", first)
	}
	if d.Pending() != `data: {"respo` {
		t.Errorf("expected unterminated line to be carried, got %q", d.Pending())
	}
	second := d.Decode([]byte("nse\":\"Hi\"}\n"))
	if first+second != "Hi" {
		t.Errorf("expected cumulative output Hi, got %q", first+second)
	}
	if d.Pending() != "" {
		t.Errorf("expected carry to be drained, got %q", d.Pending())
	}
}

func TestDecodeSplitAtEveryOffset(t *testing.T) {
	for _, stream := range []string{cloudflareStream, nestedStream, escapedStream} {
		want := decodeAll(stream)
		for i := 1; i < len(stream); i++ {
			if got := decodeAll(stream[:i], stream[i:]); got != want {
				t.Fatalf("split at %d: got %q, want %q", i, got, want)
			}
		}
	}
}

func TestDecodeRandomChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, stream := range []string{cloudflareStream, nestedStream, escapedStream} {
		want := decodeAll(stream)
		for trial := 0; trial < 2000; trial++ {
			var parts []string
			rest := stream
			for len(rest) > 0 {
				n := 1 + rng.Intn(12)
				if n > len(rest) {
					n = len(rest)
				}
				parts = append(parts, rest[:n])
				rest = rest[n:]
			}
			if got := decodeAll(parts...); got != want {
				t.Fatalf("chunks %q: got %q, want %q", parts, got, want)
			}
		}
	}
}

func TestDecodeIgnoresControlLines(t *testing.T) {
	stream := "data: {\"response\":\"secret\",\"usage\":{\"prompt_tokens\":1}}\n\n" +
		"data: {\"response\":\"leak\",\"prompt_tokens\":5}\n\n" +
		"data: [DONE]\n\n"
	if got := decodeAll(stream); got != "" {
		t.Errorf("control lines must not contribute output, got %q", got)
	}
	d := New()
	d.Decode([]byte(stream))
	if d.Pending() != "" {
		t.Errorf("control lines must not reach the carry buffer, got %q", d.Pending())
	}
}

func TestDecodeSkipsMalformedRecordAndContinues(t *testing.T) {
	d := New()
	got := d.Decode([]byte("data: {\"response\":\"a\"\n\ndata: garbage}\n\ndata: {\"response\":\"b\"}\n\n"))
	if got != "b" {
		t.Errorf("expected stream to continue past malformed lines, got %q", got)
	}
}

func TestDecodeRecoversMultipleRecordsFromCarry(t *testing.T) {
	d := New()
	d.Decode([]byte("data: {\"response\":\"A\"\n"))
	got := d.Decode([]byte("}{\"response\":\"B\"}{\"resp\n"))
	if got != "AB" {
		t.Errorf("expected both recovered records, got %q", got)
	}
	if d.Pending() != `{"resp` {
		t.Errorf("expected only the trailing fragment to remain, got %q", d.Pending())
	}
}

func TestDecodeRecordWithoutResponseField(t *testing.T) {
	if got := decodeAll("data: {\"other\":\"x\"}\n\ndata: {\"response\":\"y\"}\n\n"); got != "y" {
		t.Errorf("expected records without a response field to be ignored, got %q", got)
	}
}

func TestReset(t *testing.T) {
	d := New()
	d.Decode([]byte(`data: {"response":"stale`))
	d.Reset()
	if got := d.Decode([]byte("\"}\n")); got != "" {
		t.Errorf("reset decoder must not resolve stale fragments, got %q", got)
	}
}

// relayFrames frames parts the way the relay server does, one upstream read
// per part.
func relayFrames(t *testing.T, parts ...string) []string {
	t.Helper()
	readers := make([]io.Reader, len(parts))
	for i, p := range parts {
		readers[i] = strings.NewReader(p)
	}
	var frames []string
	_, err := relay.Each(io.MultiReader(readers...), func(frame []byte) error {
		frames = append(frames, string(frame))
		return nil
	})
	if err != nil {
		t.Fatalf("relay.Each failed: %v", err)
	}
	return frames
}

func TestDecodeRelayedUpstreamSplitFrameByFrame(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"mid word", []string{`data: {"response":"Hel`, "lo\"}\n\n"}, "Hello"},
		{"space before split", []string{`data: {"response":"Hel `, "lo\"}\n\n"}, "Hel lo"},
		{"space after split", []string{`data: {"response":"Hel`, " lo\"}\n\n"}, "Hel lo"},
		{"inside prefix", []string{"data: {\"response\":\"a\"}\n\nda", "ta: {\"response\":\"b\"}\n\n"}, "ab"},
		{"three parts", []string{`data: {"resp`, `onse":"x`, "y\"}\n\ndata: [DONE]\n\n"}, "xy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := relayFrames(t, tt.parts...)
			d := New()
			var got strings.Builder
			for _, f := range frames {
				got.WriteString(d.Decode([]byte(f)))
			}
			if got.String() != tt.want {
				t.Errorf("frame by frame = %q, want %q", got.String(), tt.want)
			}
			if whole := decodeAll(strings.Join(frames, "")); whole != tt.want {
				t.Errorf("single call = %q, want %q", whole, tt.want)
			}
		})
	}
}

func TestDecodeRelayedSplitAtEveryOffset(t *testing.T) {
	for _, stream := range []string{cloudflareStream, nestedStream, escapedStream} {
		want := decodeAll(stream)
		for i := 1; i < len(stream); i++ {
			frames := relayFrames(t, stream[:i], stream[i:])
			d := New()
			var got strings.Builder
			for _, f := range frames {
				got.WriteString(d.Decode([]byte(f)))
			}
			if got.String() != want {
				t.Fatalf("upstream split at %d: got %q, want %q", i, got.String(), want)
			}
		}
	}
}

func TestDecodeRelayedStreamNetworkSplitAtEveryOffset(t *testing.T) {
	framed := strings.Join(relayFrames(t, `data: {"response":"Hel`, "lo\"}\n\n"), "")
	for i := 1; i < len(framed); i++ {
		if got := decodeAll(framed[:i], framed[i:]); got != "Hello" {
			t.Fatalf("split at %d: got %q, want %q", i, got, "Hello")
		}
	}
}

func TestFlushResolvesUnterminatedLine(t *testing.T) {
	d := New()
	if got := d.Decode([]byte(`data: {"response":"tail"}`)); got != "" {
		t.Errorf("expected unterminated line to wait, got %q", got)
	}
	if got := d.Flush(); got != "tail" {
		t.Errorf("Flush = %q, want tail", got)
	}
	if d.Pending() != "" || d.Flush() != "" {
		t.Errorf("expected nothing left after Flush, got %q", d.Pending())
	}
}
