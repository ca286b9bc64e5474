package mcpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const DefaultMaxFrameBytes = 8 * 1024 * 1024

var (
	headerTerminator = []byte("\r\n\r\n")
	contentLengthKey = "content-length"
)

// frameBuffer owns every byte the decoder has accepted but not yet consumed.
// Appends copy, so the caller may reuse its chunk slice.
type frameBuffer struct {
	data []byte
}

func (b *frameBuffer) append(chunk []byte) {
	b.data = append(b.data, chunk...)
}

func (b *frameBuffer) bytes() []byte {
	return b.data
}

func (b *frameBuffer) len() int {
	return len(b.data)
}

// consume removes and returns a copy of the first n bytes.
func (b *frameBuffer) consume(n int) []byte {
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.discard(n)
	return out
}

func (b *frameBuffer) discard(n int) {
	remaining := len(b.data) - n
	if remaining == 0 {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:remaining]
}

func (b *frameBuffer) reset() {
	b.data = b.data[:0]
}

// Decoder turns a chunked byte stream into frame bodies. Both
// Content-Length framing and newline-delimited JSON are accepted, and the
// mode is re-detected at every frame boundary.
type Decoder struct {
	buf           frameBuffer
	expected      int
	discardLine   bool
	resync        bool
	resyncDropped int
	maxFrameBytes int
	diag          func(string)
}

func NewDecoder(maxFrameBytes int, diag func(string)) *Decoder {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	if diag == nil {
		diag = func(string) {}
	}
	return &Decoder{
		expected:      -1,
		maxFrameBytes: maxFrameBytes,
		diag:          diag,
	}
}

// Feed appends chunk and returns every body completed by it, in stream order.
// Bodies that are not well-formed JSON are reported to the diagnostic sink and
// dropped.
func (d *Decoder) Feed(chunk []byte) []json.RawMessage {
	d.buf.append(chunk)

	var frames []json.RawMessage
	for {
		body, ok := d.next()
		if !ok {
			return frames
		}
		if body == nil {
			continue
		}
		trimmed := bytes.TrimSpace(body)
		if !json.Valid(trimmed) {
			d.diag(fmt.Sprintf("invalid json frame (%d bytes)", len(body)))
			continue
		}
		frames = append(frames, json.RawMessage(trimmed))
	}
}

// Buffered reports how many bytes are held waiting for a frame to complete.
func (d *Decoder) Buffered() int {
	return d.buf.len()
}

// next advances the decoder by one step. ok is false when more input is
// needed; a nil body with ok set means a boundary was consumed without
// producing a frame.
func (d *Decoder) next() (body []byte, ok bool) {
	if d.expected >= 0 {
		if d.buf.len() < d.expected {
			return nil, false
		}
		n := d.expected
		d.expected = -1
		return d.buf.consume(n), true
	}

	if d.resync {
		return d.skipToBoundary()
	}

	if d.discardLine {
		idx := bytes.IndexByte(d.buf.bytes(), '\n')
		if idx < 0 {
			d.buf.reset()
			return nil, false
		}
		d.buf.discard(idx + 1)
		d.discardLine = false
		return nil, true
	}

	if looksLikeHeaders(d.buf.bytes()) {
		return d.nextHeaderBlock()
	}
	return d.nextLine()
}

func (d *Decoder) nextHeaderBlock() ([]byte, bool) {
	data := d.buf.bytes()
	boundary := bytes.Index(data, headerTerminator)
	if boundary < 0 {
		if len(data) > d.maxFrameBytes {
			d.diag(fmt.Sprintf("header block exceeds %d bytes without terminator; discarding", d.maxFrameBytes))
			d.buf.reset()
		}
		return nil, false
	}

	headers := parseHeaders(string(data[:boundary]))
	d.buf.discard(boundary + len(headerTerminator))

	raw, found := headers[contentLengthKey]
	if !found || raw == "" {
		return nil, true
	}
	length, err := strconv.Atoi(raw)
	if err != nil || length < 0 {
		d.diag(fmt.Sprintf("invalid Content-Length %q", raw))
		d.resync = true
		return nil, true
	}
	if length > d.maxFrameBytes {
		d.diag(fmt.Sprintf("Content-Length %d exceeds limit of %d bytes", length, d.maxFrameBytes))
		d.resync = true
		return nil, true
	}
	d.expected = length
	return nil, true
}

// skipToBoundary drops the body of a rejected frame. Its length is unknown,
// so bytes are discarded up to the next Content-Length header or the next
// line that opens a JSON object.
func (d *Decoder) skipToBoundary() ([]byte, bool) {
	data := d.buf.bytes()
	cut := indexFoldASCII(data, contentLengthKey+":")
	if idx := bytes.Index(data, []byte("\n{")); idx >= 0 && (cut < 0 || idx+1 < cut) {
		cut = idx + 1
	}
	if cut < 0 {
		// A header split across chunks must survive until the next Feed.
		keep := min(len(data), len(contentLengthKey))
		d.resyncDropped += len(data) - keep
		d.buf.discard(len(data) - keep)
		return nil, false
	}

	d.buf.discard(cut)
	d.resyncDropped += cut
	if d.resyncDropped > 0 {
		d.diag(fmt.Sprintf("discarded %d bytes after rejected frame header", d.resyncDropped))
	}
	d.resync = false
	d.resyncDropped = 0
	return nil, true
}

func (d *Decoder) nextLine() ([]byte, bool) {
	data := d.buf.bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		if len(data) > d.maxFrameBytes {
			d.diag(fmt.Sprintf("line exceeds %d bytes; discarding until next newline", d.maxFrameBytes))
			d.buf.reset()
			d.discardLine = true
		}
		return nil, false
	}

	line := d.buf.consume(idx + 1)
	line = bytes.TrimRight(line[:idx], "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, true
	}
	return line, true
}

func looksLikeHeaders(data []byte) bool {
	if len(data) == 0 || data[0] == '{' || data[0] == '[' {
		return false
	}
	first := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		first = bytes.TrimRight(data[:idx], "\r")
	}
	prefix := contentLengthKey + ":"
	if len(first) < len(prefix) {
		return false
	}
	return strings.EqualFold(string(first[:len(prefix)]), prefix)
}

func indexFoldASCII(data []byte, needle string) int {
	for i := 0; i+len(needle) <= len(data); i++ {
		match := true
		for j := 0; j < len(needle); j++ {
			c := data[i+j]
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func parseHeaders(block string) map[string]string {
	headers := map[string]string{}
	for _, line := range strings.Split(block, "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return headers
}

// EncodeFrame wraps payload in the canonical Content-Length framing used for
// every outbound message.
func EncodeFrame(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}
