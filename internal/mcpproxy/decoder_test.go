package mcpproxy

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameDecoder_SingleFrame(t *testing.T) {
	dec := NewFrameDecoder(strings.NewReader("event: message\nid: s1-1\ndata: {\"a\":1}\n\n"), 0)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", frame.Event)
	assert.Equal(t, "s1-1", frame.ID)
	assert.Equal(t, []byte(`{"a":1}`), frame.Data)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameDecoder_MultipleFrames(t *testing.T) {
	input := "event: endpoint\ndata: /messages?sid=1\n\nevent: message\ndata: one\n\ndata: two\n\n"
	dec := NewFrameDecoder(strings.NewReader(input), 0)

	f1, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", f1.Event)
	assert.Equal(t, []byte("/messages?sid=1"), f1.Data)

	f2, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", f2.Event)
	assert.Equal(t, []byte("one"), f2.Data)

	f3, err := dec.Next()
	require.NoError(t, err)
	assert.Empty(t, f3.Event)
	assert.Equal(t, []byte("two"), f3.Data)
}

func TestFrameDecoder_MultiLineData(t *testing.T) {
	dec := NewFrameDecoder(strings.NewReader("data: line1\ndata: line2\n\n"), 0)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("line1\nline2"), frame.Data)
}

func TestFrameDecoder_SkipsComments(t *testing.T) {
	dec := NewFrameDecoder(strings.NewReader(": keepalive\n\ndata: real\n\n"), 0)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("real"), frame.Data)
}

func TestFrameDecoder_CRLFLines(t *testing.T) {
	dec := NewFrameDecoder(strings.NewReader("event: message\r\ndata: payload\r\n\r\n"), 0)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", frame.Event)
	assert.Equal(t, []byte("payload"), frame.Data)
}

func TestFrameDecoder_UnterminatedFinalFrame(t *testing.T) {
	// Stream ends mid-frame: deliver what was parsed instead of losing it.
	dec := NewFrameDecoder(strings.NewReader("data: tail"), 0)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), frame.Data)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameDecoder_OversizeFrameFails(t *testing.T) {
	big := "data: " + strings.Repeat("x", 4096) + "\n\n"
	dec := NewFrameDecoder(strings.NewReader(big), 1024)

	_, err := dec.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestFrameDecoder_ValueWithoutSpace(t *testing.T) {
	dec := NewFrameDecoder(strings.NewReader("data:nospace\n\n"), 0)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("nospace"), frame.Data)
}
