package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Intercom/internal/core"
	"github.com/stretchr/testify/require"
)

var (
	errFakeClosed = errors.New("closed")
	errFakeFull   = errors.New("full")
)

// fakeConn records every frame it accepts.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errFakeClosed
	}
	if f.full {
		return errFakeFull
	}
	f.frames = append(f.frames, append(core.Frame(nil), fr...))
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) setFull(full bool) {
	f.mu.Lock()
	f.full = full
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) last(t *testing.T, typ string) map[string]any {
	t.Helper()
	msgs := f.ofType(t, typ)
	require.NotEmpty(t, msgs, "no %q frame", typ)
	return msgs[len(msgs)-1]
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}
