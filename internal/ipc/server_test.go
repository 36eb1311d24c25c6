package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/panehost/internal/config"
	"github.com/Iron-Ham/panehost/internal/core"
	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/terminal"
	"github.com/Iron-Ham/panehost/internal/testutil"
	"github.com/Iron-Ham/panehost/internal/window"
)

type testEnv struct {
	core   *core.Core
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T, tweaks ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Terminal.Shell = "/bin/sh"
	cfg.Terminal.KillGraceMs = 300
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	c, err := core.New(cfg, nil, core.WithWindowOptions(
		window.WithAttachTimeout(0),
		window.WithIDGenerator(testutil.SequentialIDs("win")),
	))
	if err != nil {
		t.Fatalf("core.New failed: %v", err)
	}
	s := NewServer(c, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return &testEnv{core: c, server: s, http: srv}
}

func (e *testEnv) openProfile(t *testing.T, profileID string) string {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/profiles/"+profileID+"/open", "application/json", nil)
	if err != nil {
		t.Fatalf("open profile: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open profile status = %d", resp.StatusCode)
	}
	var out OpenResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode open result: %v", err)
	}
	return out.WindowID
}

func (e *testEnv) dial(t *testing.T, windowID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/windows/" + windowID + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	testutil.WaitUntil(t, 5*time.Second, func() bool {
		info, ok := e.core.Windows.Get(windowID)
		return ok && info.Attached
	}, "renderer never attached")
	return ws
}

// frame decodes both responses and pushes.
type frame struct {
	Seq     uint64          `json:"seq"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorBody      `json:"error"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, ws *websocket.Conn, seq uint64, channel string, args any) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(Request{Seq: seq, Channel: channel, Args: raw}); err != nil {
		t.Fatalf("write %s: %v", channel, err)
	}
}

// readUntil reads frames until match returns true, returning every frame
// read so far.
func readUntil(t *testing.T, ws *websocket.Conn, match func(frame) bool) []frame {
	t.Helper()
	var seen []frame
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v (seen %d frames)", err, len(seen))
		}
		seen = append(seen, f)
		if match(f) {
			return seen
		}
	}
}

func response(seq uint64) func(frame) bool {
	return func(f frame) bool { return f.Channel == "" && f.Seq == seq }
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestProfiles_OpenOrFocus(t *testing.T) {
	env := newTestEnv(t)

	first := env.openProfile(t, "work")
	second := env.openProfile(t, "work")
	if first != second {
		t.Errorf("second open returned %q, want %q", second, first)
	}
	if env.core.Windows.Count() != 1 {
		t.Errorf("windows = %d, want 1", env.core.Windows.Count())
	}

	resp, err := http.Get(env.http.URL + "/profiles")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var open []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&open)
	if len(open) != 1 || open[0]["profileId"] != "work" || open[0]["windowId"] != first {
		t.Errorf("GET /profiles = %v", open)
	}
}

func TestWindowRoutes(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")

	req, _ := http.NewRequest(http.MethodDelete, env.http.URL+"/windows/"+win, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocket_UnknownWindow(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/windows/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown window should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
}

func TestWebSocket_TerminalRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)

	send(t, ws, 1, ChannelPTYCreate, map[string]any{"id": "t1", "cwd": t.TempDir()})
	frames := readUntil(t, ws, response(1))
	created := frames[len(frames)-1]
	if !created.OK {
		t.Fatalf("pty:create failed: %+v", created.Error)
	}
	var info terminal.Info
	if err := json.Unmarshal(created.Result, &info); err != nil {
		t.Fatal(err)
	}
	if info.ID != "t1" || info.WindowID != win || info.PID == 0 {
		t.Errorf("created = %+v", info)
	}

	send(t, ws, 0, ChannelPTYWrite, map[string]any{"id": "t1", "data": "echo ws-$((40+2))\n"})
	var output strings.Builder
	readUntil(t, ws, func(f frame) bool {
		if f.Channel == "pty:data:t1" {
			var chunk string
			_ = json.Unmarshal(f.Payload, &chunk)
			output.WriteString(chunk)
		}
		return strings.Contains(output.String(), "ws-42")
	})

	send(t, ws, 2, ChannelPTYKill, map[string]any{"id": "t1"})
	frames = readUntil(t, ws, response(2))
	var sawExit bool
	for _, f := range frames {
		if f.Channel == "pty:exit:t1" {
			sawExit = true
		}
	}
	if !sawExit {
		t.Error("pty:exit should be pushed before the kill response")
	}
	if !frames[len(frames)-1].OK {
		t.Errorf("pty:kill failed: %+v", frames[len(frames)-1].Error)
	}
	if _, ok := env.core.Terminals.Get("t1"); ok {
		t.Error("t1 still registered after kill")
	}

	// Writes to a killed session are silent no-ops.
	send(t, ws, 3, ChannelPTYWrite, map[string]any{"id": "t1", "data": "late\n"})
	if f := readUntil(t, ws, response(3)); !f[len(f)-1].OK {
		t.Errorf("write after kill = %+v, want ok", f[len(f)-1].Error)
	}
}

func TestPTYWriteArgs_Payload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []byte
	}{
		{"text", `{"id":"t1","data":"ls\n"}`, []byte("ls\n")},
		{"binary", `{"id":"t1","bytes":"/wo="}`, []byte{0xff, '\n'}},
		{"bytes win", `{"id":"t1","data":"ignored","bytes":"AAE="}`, []byte{0x00, 0x01}},
		{"empty", `{"id":"t1"}`, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := decode[ptyWriteArgs](json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got := args.payload(); string(got) != string(tt.want) {
				t.Errorf("payload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSocket_BinaryInput(t *testing.T) {
	if _, err := exec.LookPath("od"); err != nil {
		t.Skip("od not available")
	}
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)

	send(t, ws, 1, ChannelPTYCreate, map[string]any{
		"id":      "t1",
		"cwd":     t.TempDir(),
		"command": "/bin/sh",
		"args":    []string{"-c", "stty raw -echo; head -c 1 | od -An -tx1"},
	})
	if f := readUntil(t, ws, response(1)); !f[len(f)-1].OK {
		t.Fatalf("pty:create failed: %+v", f[len(f)-1].Error)
	}

	// Give stty a moment so the byte is not consumed in canonical mode.
	time.Sleep(200 * time.Millisecond)
	send(t, ws, 2, ChannelPTYWrite, map[string]any{"id": "t1", "bytes": []byte{0xff}})

	var output strings.Builder
	readUntil(t, ws, func(f frame) bool {
		if f.Channel == "pty:data:t1" {
			var chunk string
			_ = json.Unmarshal(f.Payload, &chunk)
			output.WriteString(chunk)
		}
		return strings.Contains(output.String(), "ff")
	})
}

func TestWebSocket_SlowKillDoesNotBlockCommands(t *testing.T) {
	const grace = 2 * time.Second
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Terminal.KillGraceMs = int(grace / time.Millisecond)
	})
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)

	send(t, ws, 1, ChannelPTYCreate, map[string]any{
		"id":      "stubborn",
		"cwd":     t.TempDir(),
		"command": "/bin/sh",
		"args":    []string{"-c", `trap "" HUP; echo ready; while :; do sleep 0.05; done`},
	})
	var output strings.Builder
	readUntil(t, ws, func(f frame) bool {
		if f.Channel == "pty:data:stubborn" {
			var chunk string
			_ = json.Unmarshal(f.Payload, &chunk)
			output.WriteString(chunk)
		}
		return strings.Contains(output.String(), "ready")
	})

	start := time.Now()
	send(t, ws, 2, ChannelPTYKill, map[string]any{"id": "stubborn"})
	send(t, ws, 3, ChannelPTYList, nil)

	frames := readUntil(t, ws, response(3))
	if elapsed := time.Since(start); elapsed >= grace {
		t.Errorf("pty:list answered after %v, behind the kill grace period", elapsed)
	}
	for _, f := range frames {
		if f.Channel == "" && f.Seq == 2 {
			t.Error("kill response arrived before the stubborn child was reaped")
		}
	}
	var list []terminal.Info
	_ = json.Unmarshal(frames[len(frames)-1].Result, &list)
	if len(list) != 0 {
		t.Errorf("pty:list = %+v, want the killed session gone", list)
	}

	frames = readUntil(t, ws, response(2))
	if !frames[len(frames)-1].OK {
		t.Errorf("pty:kill failed: %+v", frames[len(frames)-1].Error)
	}
	var sawExit bool
	for _, f := range frames {
		sawExit = sawExit || f.Channel == "pty:exit:stubborn"
	}
	if !sawExit {
		t.Error("pty:exit should be pushed before the kill response")
	}
}

func TestWebSocket_Errors(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)

	tests := []struct {
		channel string
		args    any
		kind    string
	}{
		{"pty:explode", nil, errors.KindValidation},
		{ChannelPTYCreate, map[string]any{"id": "bad", "cwd": "/definitely/not/here"}, errors.KindSpawn},
		{ChannelPTYCreate, map[string]any{"id": "bad", "command": "/definitely/not/a/shell"}, errors.KindSpawn},
		{ChannelFSWatch, map[string]any{"id": "w", "path": "/definitely/not/here"}, errors.KindWatch},
		{ChannelPTYCreate, "not an object", errors.KindValidation},
	}
	for i, tt := range tests {
		seq := uint64(i + 1)
		send(t, ws, seq, tt.channel, tt.args)
		f := readUntil(t, ws, response(seq))
		got := f[len(f)-1]
		if got.OK || got.Error == nil {
			t.Errorf("%s: expected failure, got %+v", tt.channel, got)
			continue
		}
		if got.Error.Kind != tt.kind {
			t.Errorf("%s: kind = %q, want %q (%s)", tt.channel, got.Error.Kind, tt.kind, got.Error.Message)
		}
	}
}

func TestWebSocket_WatchPushesChanges(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)
	dir := t.TempDir()

	send(t, ws, 1, ChannelFSWatch, map[string]any{"id": "w1", "path": dir})
	if f := readUntil(t, ws, response(1)); !f[len(f)-1].OK {
		t.Fatalf("fs:watch failed: %+v", f[len(f)-1].Error)
	}
	// Give the background walk a moment; the root is watched already.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	frames := readUntil(t, ws, func(f frame) bool { return f.Channel == "fs:change:w1" })
	var change struct {
		EventType string `json:"eventType"`
		Filename  string `json:"filename"`
	}
	_ = json.Unmarshal(frames[len(frames)-1].Payload, &change)
	if change.Filename != "a.txt" {
		t.Errorf("change = %+v", change)
	}
}

func TestWebSocket_DisconnectClosesWindow(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)

	send(t, ws, 1, ChannelPTYCreate, map[string]any{"id": "t1"})
	readUntil(t, ws, response(1))
	send(t, ws, 2, ChannelFSWatch, map[string]any{"id": "w1", "path": t.TempDir()})
	readUntil(t, ws, response(2))

	_ = ws.Close()

	testutil.WaitUntil(t, 5*time.Second, func() bool { return !env.core.Windows.IsLive(win) }, "window stayed open after disconnect")
	testutil.WaitUntil(t, 5*time.Second, func() bool {
		_, pty := env.core.Terminals.Get("t1")
		_, watch := env.core.Watches.Get("w1")
		return !pty && !watch
	}, "resources survived the window")
	if entry, _ := env.core.Profiles.Get("work"); entry.WindowID != "" {
		t.Errorf("profile still bound: %+v", entry)
	}
}

func TestWebSocket_WindowClose(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ws := env.dial(t, win)

	send(t, ws, 7, ChannelWindowClose, nil)
	f := readUntil(t, ws, response(7))
	if !f[len(f)-1].OK {
		t.Fatalf("window:close failed: %+v", f[len(f)-1].Error)
	}

	testutil.WaitUntil(t, 5*time.Second, func() bool { return !env.core.Windows.IsLive(win) }, "window still live")
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("connection should be closed with the window")
	}
}

func TestDispatch_OtherWindowsResources(t *testing.T) {
	env := newTestEnv(t)
	a := env.openProfile(t, "a")
	b := env.openProfile(t, "b")
	ctx := context.Background()

	if _, err := env.core.Terminals.Create(ctx, terminal.Options{ID: "t1", WindowID: a}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"id": "t1"})
	resp := env.server.Dispatch(ctx, b, Request{Seq: 1, Channel: ChannelPTYKill, Args: args})
	if !resp.OK {
		t.Fatalf("kill of foreign id should be a no-op, got %+v", resp.Error)
	}
	if _, ok := env.core.Terminals.Get("t1"); !ok {
		t.Error("window b killed a session owned by window a")
	}

	resp = env.server.Dispatch(ctx, b, Request{Seq: 2, Channel: ChannelPTYList})
	if list, _ := resp.Result.([]terminal.Info); len(list) != 0 {
		t.Errorf("pty:list for b = %v, want empty", list)
	}
}

func TestDispatch_RecoversPanics(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	env.server.handlers["test:panic"] = func(context.Context, string, json.RawMessage) (any, error) {
		panic("boom")
	}

	resp := env.server.Dispatch(context.Background(), win, Request{Seq: 1, Channel: "test:panic"})
	if resp.OK || resp.Error == nil || resp.Error.Kind != errors.KindInternal {
		t.Errorf("response = %+v, want InternalError", resp)
	}
}

func TestDispatch_ClosedWindow(t *testing.T) {
	env := newTestEnv(t)
	resp := env.server.Dispatch(context.Background(), "gone", Request{Seq: 1, Channel: ChannelPTYList})
	if resp.OK || resp.Error.Kind != errors.KindNotFound {
		t.Errorf("response = %+v, want NotFoundError", resp)
	}
}

func TestDispatch_RetiredWindow(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")

	// The window is still live but its teardown has begun.
	env.core.Index.Retire(win)

	args, _ := json.Marshal(map[string]string{"id": "t1"})
	resp := env.server.Dispatch(context.Background(), win, Request{Seq: 1, Channel: ChannelPTYCreate, Args: args})
	if resp.OK || resp.Error == nil || resp.Error.Kind != errors.KindNotFound {
		t.Errorf("response = %+v, want NotFoundError", resp)
	}
	if env.core.Terminals.Count() != 0 {
		t.Error("session created for a retired window")
	}
}

func TestDispatch_ProfileCommands(t *testing.T) {
	env := newTestEnv(t)
	win := env.openProfile(t, "work")
	ctx := context.Background()

	args, _ := json.Marshal(map[string]string{"profileId": "play"})
	resp := env.server.Dispatch(ctx, win, Request{Seq: 1, Channel: ChannelProfileOpen, Args: args})
	if !resp.OK {
		t.Fatalf("profile:open failed: %+v", resp.Error)
	}
	if resp.Result.(OpenResult).WindowID == win {
		t.Error("profile:open for another profile returned the caller's window")
	}

	resp = env.server.Dispatch(ctx, win, Request{Seq: 2, Channel: ChannelProfileList})
	if !resp.OK {
		t.Fatalf("profile:list failed: %+v", resp.Error)
	}
	if got := len(env.core.Profiles.Open()); got != 2 {
		t.Errorf("open profiles = %d, want 2", got)
	}
}
