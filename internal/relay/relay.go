// Package relay frames an opaque upstream byte stream as a line-delimited
// server-sent event stream terminated by a [DONE] sentinel.
package relay

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// EventPrefix starts every frame.
	EventPrefix = "data: "
	// DoneSentinel is the payload of the terminal frame.
	DoneSentinel = "[DONE]"

	frameSeparator = "\n\n"
	chunkSize      = 32 * 1024
)

// ErrUpstream wraps read errors reported by the upstream stream, so callers
// can tell them apart from errors writing to the consumer.
var ErrUpstream = errors.New("upstream stream failed")

// Frame wraps one upstream chunk as an event frame.
func Frame(chunk []byte) []byte {
	frame := make([]byte, 0, len(EventPrefix)+len(chunk)+len(frameSeparator))
	frame = append(frame, EventPrefix...)
	frame = append(frame, chunk...)
	return append(frame, frameSeparator...)
}

// DoneFrame returns the terminal frame.
func DoneFrame() []byte {
	return Frame([]byte(DoneSentinel))
}

// Each reads src one chunk at a time and hands each framed chunk to emit, in
// arrival order, followed by the done frame once src reports io.EOF. It returns
// the number of upstream chunks relayed. An upstream read error is returned
// wrapped in ErrUpstream and no done frame is emitted; an emit error stops the
// loop and is returned as is.
func Each(src io.Reader, emit func(frame []byte) error) (int, error) {
	buf := make([]byte, chunkSize)
	chunks := 0
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunks++
			if emitErr := emit(Frame(buf[:n])); emitErr != nil {
				return chunks, emitErr
			}
		}
		if errors.Is(err, io.EOF) {
			return chunks, emit(DoneFrame())
		}
		if err != nil {
			return chunks, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
	}
}

// Transform adapts src into a reader of event frames. src is closed once the
// upstream is drained or fails, and closing the returned reader closes src,
// which unblocks a pending upstream read. An upstream error surfaces as the
// error of the returned reader's Read.
func Transform(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	r := &framedReader{PipeReader: pr, closeSrc: sync.OnceValue(src.Close)}
	go func() {
		_, err := Each(src, func(frame []byte) error {
			_, werr := pw.Write(frame)
			return werr
		})
		_ = r.closeSrc()
		// CloseWithError(nil) behaves like Close.
		_ = pw.CloseWithError(err)
	}()
	return r
}

type framedReader struct {
	*io.PipeReader
	closeSrc func() error
}

func (r *framedReader) Close() error {
	_ = r.PipeReader.Close()
	return r.closeSrc()
}

// Copy writes the framed stream to w, calling flush after every frame.
func Copy(w io.Writer, flush func(), src io.Reader) (int, error) {
	return Each(src, func(frame []byte) error {
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	})
}
