package daemon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/termdeck/internal/term"
)

func TestControlFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := Request{
		ID:        "r1",
		Command:   CmdCreate,
		SessionID: "s1",
		Options:   &term.CreateOptions{Shell: "/bin/zsh", Cwd: "/tmp", Cols: 120, Rows: 40},
	}
	require.NoError(t, WriteMessage(&buf, req))

	var got Request
	require.NoError(t, ReadMessage(&buf, &got))
	assert.Equal(t, req, got)
}

func TestControlFrameCarriesStatePayload(t *testing.T) {
	var buf bytes.Buffer

	resp := Response{
		ID:    "r2",
		Event: EvtState,
		State: &term.SavedState{
			Sessions: []term.SavedSession{{ID: "a", Name: "A", Shell: "/bin/sh"}},
		},
		Scrollbacks: map[string]string{"a": "some history"},
	}
	require.NoError(t, WriteMessage(&buf, resp))

	var got Response
	require.NoError(t, ReadMessage(&buf, &got))
	require.NotNil(t, got.State)
	assert.Equal(t, "a", got.State.Sessions[0].ID)
	assert.Equal(t, "some history", got.Scrollbacks["a"])
}

func TestReadMessageRejectsEmptyFrame(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	var got Request
	assert.Error(t, ReadMessage(buf, &got))
}

func TestStreamHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStreamHeader(&buf, "session-42"))
	buf.WriteString("raw terminal bytes")

	id, err := ReadStreamHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "session-42", id)
	assert.Equal(t, "raw terminal bytes", buf.String())
}

func TestStreamHeaderRejectsOversizedID(t *testing.T) {
	var buf bytes.Buffer
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Error(t, WriteStreamHeader(&buf, string(long)))
}
