package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima-backend/internal/chat"
	"github.com/anima/anima-backend/internal/clock"
	"github.com/anima/anima-backend/internal/kv"
	"github.com/anima/anima-backend/internal/relay"
	"github.com/anima/anima-backend/internal/usage"
)

type harness struct {
	cfgPath   string
	storePath string
	clock     *clock.Manual
	calls     atomic.Int32
	lastReq   atomic.Pointer[relay.ChatRequest]
}

func newHarness(t *testing.T, reply string) *harness {
	t.Helper()
	for _, key := range []string{"ANIMA_RELAY_URL", "ANIMA_STORE_DRIVER", "ANIMA_STORE_PATH", "ANIMA_LANG", "ANIMA_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	h := &harness{clock: clock.NewManual(time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.calls.Add(1)
		var req relay.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		h.lastReq.Store(&req)
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	h.storePath = filepath.Join(dir, "anima.db")
	h.cfgPath = filepath.Join(dir, "config.json")

	cfg := map[string]any{
		"client": map[string]any{"relay_url": srv.URL, "lang": "en"},
		"store":  map[string]any{"driver": "sqlite", "path": h.storePath},
		"log":    map[string]any{"level": "error"},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.cfgPath, data, 0o644))
	return h
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test", &rootOptions{clock: h.clock})
	var out bytes.Buffer
	cmd.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := h.run(t, stdin, args...)
	require.NoError(t, err)
	return out
}

func (h *harness) threads(t *testing.T) []chat.Thread {
	t.Helper()
	store, err := kv.OpenSQLite(context.Background(), h.storePath)
	require.NoError(t, err)
	defer store.Close()
	list, err := chat.NewThreads(store, h.clock, nil).List(context.Background())
	require.NoError(t, err)
	return list
}

func TestThreadsCommands(t *testing.T) {
	h := newHarness(t, "ok")

	out := h.mustRun(t, "", "threads", "list")
	assert.Contains(t, out, "No threads yet")

	out = h.mustRun(t, "", "threads", "new", "Evening", "talk")
	assert.Contains(t, out, "Evening talk")
	h.mustRun(t, "", "threads", "new")

	list := h.threads(t)
	require.Len(t, list, 2)
	assert.Equal(t, "Chat 12:00:00", list[0].Title)
	assert.Equal(t, "Evening talk", list[1].Title)

	out = h.mustRun(t, "", "threads", "list")
	assert.Contains(t, out, "Evening talk")
	assert.Contains(t, out, list[0].ID)

	out = h.mustRun(t, "", "threads", "delete", list[1].ID)
	assert.Contains(t, out, "Deleted")
	assert.Len(t, h.threads(t), 1)

	_, err := h.run(t, "", "threads", "delete", "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestProfileCommands(t *testing.T) {
	h := newHarness(t, "ok")

	out := h.mustRun(t, "", "profile", "show")
	assert.JSONEq(t, `{}`, out)

	h.mustRun(t, "", "profile", "set", "--name", "Ana", "--age", "27")
	out = h.mustRun(t, "", "profile", "set", "--topics", "sleep,stress")
	assert.JSONEq(t, `{"name":"Ana","age":27,"topics":["sleep","stress"]}`, out)

	out = h.mustRun(t, "", "profile", "show")
	assert.JSONEq(t, `{"name":"Ana","age":27,"topics":["sleep","stress"]}`, out)

	_, err := h.run(t, "", "profile", "set", "--age", "-1")
	assert.Error(t, err)
}

func TestChatStreamsReplyAndPersists(t *testing.T) {
	h := newHarness(t, "Hello, Ana!")
	h.mustRun(t, "", "profile", "set", "--name", "Ana")

	out := h.mustRun(t, "Hi there\n\n/status\n/quit\n", "chat")
	assert.Contains(t, out, "General")
	assert.Contains(t, out, "anima › Hello, Ana!")
	assert.Contains(t, out, "15:00 left today")
	assert.Contains(t, out, "1 conversation(s)")
	assert.Equal(t, int32(1), h.calls.Load())

	req := h.lastReq.Load()
	require.NotNil(t, req)
	assert.Equal(t, "en", req.Lang)
	assert.JSONEq(t, `{"name":"Ana"}`, string(req.Profile))
	assert.Equal(t, []relay.Turn{{Role: "user", Text: "Hi there"}}, req.Messages)

	// history is replayed when the thread is reopened
	out = h.mustRun(t, "", "chat")
	assert.Contains(t, out, "you › Hi there")
	assert.Contains(t, out, "anima › Hello, Ana!")

	out = h.mustRun(t, "", "threads", "export", "--format", "yaml")
	assert.Contains(t, out, "title: General")
	assert.Contains(t, out, "Hello, Ana!")
	assert.Contains(t, out, "role: assistant")

	path := filepath.Join(t.TempDir(), "export.json")
	h.mustRun(t, "", "threads", "export", "-o", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var transcripts []chat.Transcript
	require.NoError(t, json.Unmarshal(data, &transcripts))
	require.Len(t, transcripts, 1)
	assert.Len(t, transcripts[0].Messages, 2)
}

func TestChatUnknownThread(t *testing.T) {
	h := newHarness(t, "ok")
	_, err := h.run(t, "", "chat", "--thread", "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestChatRefusedWhenQuotaUsed(t *testing.T) {
	h := newHarness(t, "ok")

	store, err := kv.OpenSQLite(context.Background(), h.storePath)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), usage.DayKey(h.clock.Now()), "900000"))
	require.NoError(t, store.Close())

	out := h.mustRun(t, "Hi\n", "chat")
	assert.Contains(t, out, quotaNotice)
	assert.Zero(t, h.calls.Load())

	out = h.mustRun(t, "", "usage")
	assert.Contains(t, out, "15:00 / 15:00")
	assert.Contains(t, out, "Remaining: 00:00")
}

func TestDialogueLimitAndUnlock(t *testing.T) {
	h := newHarness(t, "ok")

	for i := 0; i < 4; i++ {
		h.mustRun(t, "", "threads", "new")
	}
	for _, th := range h.threads(t) {
		out := h.mustRun(t, "hello\n", "chat", "--thread", th.ID)
		assert.Contains(t, out, "anima › ok")
	}
	assert.Equal(t, int32(4), h.calls.Load())

	out := h.mustRun(t, "", "usage")
	assert.Contains(t, out, "Conversations: 4")
	assert.Contains(t, out, paywallNotice)

	out = h.mustRun(t, "again\n", "chat")
	assert.Contains(t, out, paywallNotice)
	assert.Equal(t, int32(4), h.calls.Load())

	out = h.mustRun(t, "", "unlock")
	assert.Contains(t, out, "Unlocked")

	out = h.mustRun(t, "again\n", "chat")
	assert.Contains(t, out, "anima › ok")
	assert.Equal(t, int32(5), h.calls.Load())
}

func TestRelayErrorShownInline(t *testing.T) {
	h := newHarness(t, "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"Missing OPENAI_API_KEY"}`)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("ANIMA_RELAY_URL", srv.URL)

	out := h.mustRun(t, "Hi\n", "chat")
	assert.Contains(t, out, "Error: Missing OPENAI_API_KEY")
}
