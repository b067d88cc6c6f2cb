// Package decoder turns raw bytes of a relayed event stream into assistant
// text deltas, tolerating records split at arbitrary chunk boundaries.
package decoder

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ResponseField is the record key carrying the text delta.
const ResponseField = "response"

var (
	// prefixPattern matches one or more leading event prefixes, as produced when
	// an upstream that already speaks SSE is framed again by the relay. Only one
	// space after the last prefix belongs to the framing; further whitespace may
	// be part of a split text delta.
	prefixPattern = regexp.MustCompile(`^data: ?(\s*data: ?)*`)

	// recordPattern recovers complete records from the carry buffer. It assumes
	// the text delta contains no escaped quote.
	recordPattern = regexp.MustCompile(`\{"response":"([^"]*)"[^}]*\}`)

	controlMarkers = []string{"[DONE]", `"prompt_tokens"`, `"usage"`}
)

// Decoder extracts text deltas for a single in-flight request. It is not safe
// for concurrent use; a new request must use a new Decoder or call Reset.
//
// Bytes are resolved a line at a time, so where the network splits the stream
// never changes the output. Lines that hold only part of a record, as when the
// relay frames each half of a split upstream record, are joined in the carry
// buffer until a record can be recovered.
type Decoder struct {
	line  strings.Builder
	carry strings.Builder
}

// New returns a Decoder with an empty carry buffer.
func New() *Decoder {
	return &Decoder{}
}

// Reset discards any carried partial record.
func (d *Decoder) Reset() {
	d.line.Reset()
	d.carry.Reset()
}

// Pending returns the unresolved bytes carried into the next call: record
// fragments followed by the unterminated line.
func (d *Decoder) Pending() string {
	return d.carry.String() + d.line.String()
}

// Decode consumes one network chunk and returns the text deltas it completes.
// Bytes that do not yet form a record are carried into the next call, and
// bytes that produced output are never reported twice.
func (d *Decoder) Decode(chunk []byte) string {
	var out strings.Builder

	text := d.line.String() + string(chunk)
	d.line.Reset()
	for {
		raw, rest, found := strings.Cut(text, "\n")
		if !found {
			break
		}
		d.decodeLine(raw, &out)
		text = rest
	}
	d.line.WriteString(text)

	return out.String()
}

// Flush resolves a final line the stream never terminated.
func (d *Decoder) Flush() string {
	if d.line.Len() == 0 {
		return ""
	}
	var out strings.Builder
	raw := d.line.String()
	d.line.Reset()
	d.decodeLine(raw, &out)
	return out.String()
}

func (d *Decoder) decodeLine(raw string, out *strings.Builder) {
	line := strings.TrimSpace(raw)
	if line == "" || isControl(line) {
		return
	}

	body := prefixPattern.ReplaceAllString(strings.TrimRight(strings.TrimLeft(raw, " \t"), "\r"), "")
	cleaned := strings.TrimSpace(body)
	// A bare scalar is never a whole record; it is a slice of a split one.
	if gjson.Valid(cleaned) && gjson.Parse(cleaned).IsObject() {
		if r := gjson.Get(cleaned, ResponseField); r.Exists() {
			out.WriteString(r.String())
		}
		return
	}
	if cleaned == "" && d.carry.Len() == 0 {
		return
	}

	d.carry.WriteString(body)
	d.recover(out)
}

// recover emits every complete record embedded in the carry buffer and drops
// everything up to the end of the last match.
func (d *Decoder) recover(out *strings.Builder) {
	pending := d.carry.String()
	matches := recordPattern.FindAllStringIndex(pending, -1)
	if len(matches) == 0 {
		return
	}
	for _, m := range matches {
		record := pending[m[0]:m[1]]
		r := gjson.Get(record, ResponseField)
		if !gjson.Valid(record) || !r.Exists() {
			slog.Debug("decoder skipped unparseable record", "record", record)
			continue
		}
		out.WriteString(r.String())
	}
	tail := pending[matches[len(matches)-1][1]:]
	d.carry.Reset()
	d.carry.WriteString(tail)
}

func isControl(line string) bool {
	for _, marker := range controlMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
