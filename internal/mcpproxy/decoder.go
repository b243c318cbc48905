package mcpproxy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single SSE frame from a backend. A
// misbehaving backend cannot force unbounded buffering past this.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// WireFrame is one decoded SSE frame.
type WireFrame struct {
	ID    string
	Event string
	Data  []byte
}

// FrameDecoder incrementally decodes SSE frames from a reader. It is a
// proper incremental parser rather than best-effort newline splitting; a
// frame larger than the configured maximum fails the stream instead of
// growing the buffer without bound.
type FrameDecoder struct {
	scanner *bufio.Scanner
}

// NewFrameDecoder creates a decoder with the given maximum frame size.
func NewFrameDecoder(r io.Reader, maxFrameSize int) *FrameDecoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	initial := 64 * 1024
	if initial > maxFrameSize {
		initial = maxFrameSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initial), maxFrameSize)
	return &FrameDecoder{scanner: sc}
}

// Next returns the next complete frame. io.EOF signals a clean end of
// stream; any other error means the stream is unusable.
func (d *FrameDecoder) Next() (*WireFrame, error) {
	frame := &WireFrame{}
	var data [][]byte
	sawField := false

	for d.scanner.Scan() {
		line := d.scanner.Bytes()

		// Blank line terminates the frame.
		if len(bytes.TrimRight(line, "\r")) == 0 {
			if !sawField {
				continue // leading blank lines between frames
			}
			frame.Data = bytes.Join(data, []byte("\n"))
			return frame, nil
		}

		// Comment lines (keepalives) are ignored.
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "id":
			frame.ID = string(value)
			sawField = true
		case "event":
			frame.Event = string(value)
			sawField = true
		case "data":
			// Copy: the scanner reuses its buffer.
			data = append(data, append([]byte(nil), value...))
			sawField = true
		}
	}

	if err := d.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, fmt.Errorf("sse frame exceeds maximum size: %w", err)
		}
		return nil, err
	}
	if sawField {
		// Stream ended mid-frame; deliver what we have.
		frame.Data = bytes.Join(data, []byte("\n"))
		return frame, nil
	}
	return nil, io.EOF
}

func splitField(line []byte) (string, []byte) {
	line = bytes.TrimRight(line, "\r")
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
