package manager

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is written by the worker goroutine and read by the test
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

func TestApply_LogsMutationWithLogID(t *testing.T) {
	var buf lockedBuffer
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &bytes.Buffer{}}) })

	h := newHarness(t, time.Minute)
	created := h.add(t, alice, mute("123456"))
	_, err := h.edit(t, carol, created.ID, "reason", "spam")
	require.Error(t, err)

	var applied, rejected map[string]any
	for _, line := range buf.lines(t) {
		switch line["message"] {
		case "Mutation applied":
			applied = line
		case "Mutation rejected":
			rejected = line
		}
	}

	require.NotNil(t, applied)
	assert.Equal(t, "1", applied["log_id"])
	assert.Equal(t, alice, applied["requester"])
	assert.Equal(t, "add", applied["kind"])

	require.NotNil(t, rejected)
	assert.Equal(t, "1", rejected["log_id"])
	assert.Equal(t, carol, rejected["requester"])
	assert.Equal(t, "edit", rejected["kind"])
}
