package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/assets"
	"github.com/livetemplate/tinkerpen/internal/catalog"
	"github.com/livetemplate/tinkerpen/internal/config"
)

const introLesson = "---\n" +
	"title: Intro to the DOM\n" +
	"description: Changing text from JavaScript\n" +
	"tags: [dom]\n" +
	"---\n\n" +
	"Click the button and watch the **console**.\n\n" +
	"```html pen id=counter\n<button id=\"btn\" onclick=\"bump()\">0</button>\n```\n\n" +
	"```js pen id=counter\nlet n = 0;\nfunction bump() { n++; console.log('n', n); }\nconsole.log('ready');\n```\n"

type testEnv struct {
	srv *Server
	ts  *httptest.Server
	cfg *config.Config
}

// newTestServer starts a headless server over a catalog holding the given
// lesson files. Auto-run is off unless mutate turns it on.
func newTestServer(t *testing.T, mode SandboxMode, lessons map[string]string, mutate func(*config.Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	for name, content := range lessons {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	cfg := config.DefaultConfig()
	cfg.Playground.AutoRun = false
	cfg.RateLimit.RequestsPerSecond = 0
	if mutate != nil {
		mutate(cfg)
	}

	cat, err := catalog.Load(dir, cfg.Catalog.Ignore, zap.NewNop())
	require.NoError(t, err)

	srv, err := New(Options{Config: cfg, Catalog: cat, Sandbox: mode, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, cfg: cfg}
}

func (e *testEnv) createPen(t *testing.T, req CreatePenRequest) string {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(e.ts.URL+"/pens", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out CreatePenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.SessionID)
	assert.Equal(t, "/pens/"+out.SessionID, out.URL)
	return out.SessionID
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) console(t *testing.T, id string) ConsoleResponse {
	t.Helper()
	resp, body := e.get(t, "/pens/"+id+"/console")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ConsoleResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

// wsTestClient is a helper for WebSocket protocol testing
type wsTestClient struct {
	conn    *websocket.Conn
	t       *testing.T
	timeout time.Duration
}

func (e *testEnv) dial(t *testing.T, id string) *wsTestClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/pens/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsTestClient{conn: conn, t: t, timeout: 2 * time.Second}
}

func (c *wsTestClient) send(msg Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// next reads the next message, failing the test on timeout.
func (c *wsTestClient) next() Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	var msg Message
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

// expect reads the next message and checks its action.
func (c *wsTestClient) expect(action string) Message {
	c.t.Helper()
	msg := c.next()
	require.Equal(c.t, action, msg.Action, "unexpected message %+v", msg)
	return msg
}

func TestCreatePenJSON(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)

	id := env.createPen(t, CreatePenRequest{
		HTML: `<p id="out"></p>`,
		JS:   `document.getElementById("out").textContent = "done"; console.log("hi", 1); console.error("boom");`,
	})

	got := env.console(t, id)
	assert.Equal(t, uint64(1), got.Run)
	assert.Equal(t, []tinkerpen.ConsoleEntry{
		{Level: tinkerpen.LevelLog, Message: "hi 1"},
		{Level: tinkerpen.LevelError, Message: "boom"},
	}, got.Entries)
	assert.Equal(t, 1, env.srv.Sessions().Len())
}

func TestCreatePenDefaults(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	id := env.createPen(t, CreatePenRequest{})

	session, err := env.srv.Sessions().Get(id)
	require.NoError(t, err)
	assert.Equal(t, tinkerpen.DefaultSources(), session.Pen().Sources())
	assert.False(t, session.Pen().AutoRun())
}

func TestCreatePenNormalize(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	id := env.createPen(t, CreatePenRequest{JS: `console.log(\"a\");\nconsole.log(\"b\");`, Normalize: true})

	got := env.console(t, id)
	assert.Equal(t, []tinkerpen.ConsoleEntry{
		{Level: tinkerpen.LevelLog, Message: "a"},
		{Level: tinkerpen.LevelLog, Message: "b"},
	}, got.Entries)
}

func TestCreatePenForm(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.PostForm(env.ts.URL+"/pens", url.Values{"html": {"<b>hi</b>"}})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(loc, "/pens/"), loc)

	session, err := env.srv.Sessions().Get(strings.TrimPrefix(loc, "/pens/"))
	require.NoError(t, err)
	assert.Equal(t, "<b>hi</b>", session.Pen().Sources().HTML)
}

func TestCreatePenFromLesson(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, map[string]string{"intro.md": introLesson}, nil)

	tests := []struct {
		name   string
		req    CreatePenRequest
		status int
	}{
		{"named pen", CreatePenRequest{Lesson: "intro", Pen: "counter"}, http.StatusCreated},
		{"first pen", CreatePenRequest{Lesson: "intro"}, http.StatusCreated},
		{"unknown lesson", CreatePenRequest{Lesson: "missing"}, http.StatusNotFound},
		{"unknown pen", CreatePenRequest{Lesson: "intro", Pen: "nope"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.req)
			resp, err := http.Post(env.ts.URL+"/pens", "application/json", bytes.NewReader(body))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusCreated {
				return
			}

			var out CreatePenResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			session, err := env.srv.Sessions().Get(out.SessionID)
			require.NoError(t, err)
			assert.Equal(t, "intro", session.Lesson)
			assert.Equal(t, "counter", session.PenID)
			assert.Contains(t, session.Pen().Sources().HTML, `onclick="bump()"`)
			assert.Equal(t, []tinkerpen.ConsoleEntry{{Level: tinkerpen.LevelLog, Message: "ready"}},
				session.Pen().Console())
		})
	}
}

func TestCreatePenInvalidJSON(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	resp, err := http.Post(env.ts.URL+"/pens", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreatePenRateLimited(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 1
	})

	env.createPen(t, CreatePenRequest{})
	resp, err := http.Post(env.ts.URL+"/pens", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestPages(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, map[string]string{
		"intro.md":       introLesson,
		"drafts/wip.md":  "# Work in progress\n",
		"broken/bad.md":  "---\ntitle: [unclosed\n---\n",
		"dom/events.md":  "# Events\n\n```js pen id=main\nconsole.log(1)\n```\n",
		"dom/_hidden.md": "# Hidden\n",
	}, nil)
	id := env.createPen(t, CreatePenRequest{HTML: "<p>x</p>"})

	tests := []struct {
		name     string
		path     string
		status   int
		contains []string
		excludes []string
	}{
		{
			name:     "index",
			path:     "/",
			status:   http.StatusOK,
			contains: []string{"Intro to the DOM", `href="/lessons/dom/events"`, "1 pen", "failed to load"},
			excludes: []string{"Work in progress", "Hidden"},
		},
		{
			name:     "lesson",
			path:     "/lessons/intro",
			status:   http.StatusOK,
			contains: []string{"<strong>console</strong>", `data-pen="counter"`, `data-lesson="intro"`, `data-pen-id=""`},
			excludes: []string{"function bump"},
		},
		{name: "nested lesson", path: "/lessons/dom/events", status: http.StatusOK, contains: []string{`data-pen="main"`}},
		{name: "unknown lesson", path: "/lessons/nope", status: http.StatusNotFound},
		{
			name:     "pen",
			path:     "/pens/" + id,
			status:   http.StatusOK,
			contains: []string{`data-pen-id="` + id + `"`, `sandbox=""`, "/assets/tinkerpen.js"},
		},
		{name: "unknown pen", path: "/pens/nope", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			for _, s := range tt.contains {
				assert.Contains(t, body, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, body, s)
			}
		})
	}
}

func TestBrowserPenPage(t *testing.T) {
	env := newTestServer(t, SandboxBrowser, nil, nil)
	id := env.createPen(t, CreatePenRequest{HTML: "<p>x</p>"})

	resp, body := env.get(t, "/pens/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `sandbox="`+tinkerpen.SandboxPolicy+`"`)
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "'unsafe-eval'")
}

func TestPreview(t *testing.T) {
	t.Run("headless snapshot", func(t *testing.T) {
		env := newTestServer(t, SandboxHeadless, nil, nil)
		id := env.createPen(t, CreatePenRequest{
			HTML: `<p id="out">before</p>`,
			JS:   `document.getElementById("out").textContent = "after";`,
		})

		resp, body := env.get(t, "/pens/"+id+"/preview")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "sandbox", resp.Header.Get("Content-Security-Policy"))
		assert.Contains(t, body, `<p id="out">after</p>`)
	})

	t.Run("browser document before mount", func(t *testing.T) {
		env := newTestServer(t, SandboxBrowser, nil, nil)
		id := env.createPen(t, CreatePenRequest{HTML: `<p id="out">before</p>`, JS: `var x = 1;`})

		resp, body := env.get(t, "/pens/"+id+"/preview")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "sandbox "+tinkerpen.SandboxPolicy, resp.Header.Get("Content-Security-Policy"))
		assert.Contains(t, body, `<p id="out">before</p>`)
		assert.Contains(t, body, "postMessage")
	})
}

func TestExport(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	src := tinkerpen.Sources{HTML: "<h1>hi</h1>\n", CSS: "h1 { color: red; }", JS: "console.log('x')"}
	id := env.createPen(t, CreatePenRequest{HTML: src.HTML, CSS: src.CSS, JS: src.JS})

	resp, body := env.get(t, "/pens/"+id+"/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="`+id+`.zip"`, resp.Header.Get("Content-Disposition"))

	got, err := tinkerpen.ReadArchive([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, src, got)

	tabs := []struct {
		tab      string
		status   int
		filename string
		body     string
	}{
		{"js", http.StatusOK, "snippet.js", src.JS},
		{"css", http.StatusOK, "snippet.css", src.CSS},
		{"html", http.StatusOK, "snippet.html", src.HTML},
		{"python", http.StatusBadRequest, "", ""},
	}
	for _, tt := range tabs {
		t.Run(tt.tab, func(t *testing.T) {
			resp, body := env.get(t, "/pens/"+id+"/export/"+tt.tab)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, `attachment; filename="`+tt.filename+`"`, resp.Header.Get("Content-Disposition"))
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestUnknownPenJSON(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/pens/nope/console", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, ErrSessionNotFound.Error(), body["error"])
}

func TestAssetsCompressed(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/assets/tinkerpen.js", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)

	want, err := assets.GetClientJS()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	env.createPen(t, CreatePenRequest{JS: "console.warn('w')"})

	resp, body := env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "tinkerpen_sessions_active 1")
	assert.Contains(t, body, `tinkerpen_console_entries_total{level="warn"} 1`)
	assert.Contains(t, body, `tinkerpen_runs_total{result="ok",trigger="mount"} 1`)
	assert.Contains(t, body, `route="POST /pens"`)
}

func TestWebSocketGreeting(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	id := env.createPen(t, CreatePenRequest{HTML: `<p id="out"></p>`, JS: `console.log("mounted")`})

	c := env.dial(t, id)
	src := c.expect(ActionSources)
	require.NotNil(t, src.Sources)
	assert.Equal(t, `<p id="out"></p>`, src.Sources.HTML)
	require.NotNil(t, src.Enabled)
	assert.False(t, *src.Enabled)

	clear := c.expect(ActionClear)
	assert.Equal(t, uint64(1), clear.Run)
	assert.Equal(t, string(tinkerpen.TriggerMount), clear.Trigger)

	load := c.expect(ActionLoad)
	assert.Equal(t, uint64(1), load.Run)
	assert.False(t, load.Scripts)
	assert.Contains(t, load.Document, `<p id="out"></p>`)

	entries := c.expect(ActionEntries)
	assert.Equal(t, []tinkerpen.ConsoleEntry{{Level: tinkerpen.LevelLog, Message: "mounted"}}, entries.Entries)
}

func TestWebSocketEditAndRun(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	id := env.createPen(t, CreatePenRequest{HTML: `<p id="out"></p>`})

	c := env.dial(t, id)
	c.expect(ActionSources)
	c.expect(ActionClear)
	c.expect(ActionLoad)
	c.expect(ActionEntries)

	c.send(Message{Action: ActionEdit, Tab: "js", Text: `document.getElementById("out").textContent = "ran"; console.log("edited");`})
	lint := c.expect(ActionLint)
	assert.Nil(t, lint.Lint)

	c.send(Message{Action: ActionRun})
	clear := c.expect(ActionClear)
	assert.Equal(t, uint64(2), clear.Run)
	assert.Equal(t, string(tinkerpen.TriggerManual), clear.Trigger)

	log := c.expect(ActionLog)
	assert.Equal(t, uint64(2), log.Run)
	assert.Equal(t, &tinkerpen.ConsoleEntry{Level: tinkerpen.LevelLog, Message: "edited"}, log.Entry)

	load := c.expect(ActionLoad)
	assert.Contains(t, load.Document, `<p id="out">ran</p>`)

	c.send(Message{Action: ActionEdit, Tab: "js", Text: "let = ;"})
	lint = c.expect(ActionLint)
	require.NotNil(t, lint.Lint)
	assert.Equal(t, 1, lint.Lint.Line)

	c.send(Message{Action: ActionEdit, Tab: "python", Text: "x"})
	assert.NotEmpty(t, c.expect(ActionError).Error)

	c.send(Message{Action: "dance"})
	assert.Contains(t, c.expect(ActionError).Error, "unknown action")
}

func TestWebSocketReset(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	id := env.createPen(t, CreatePenRequest{JS: `console.log("seed")`})

	c := env.dial(t, id)
	c.expect(ActionSources)
	c.expect(ActionClear)
	c.expect(ActionLoad)
	c.expect(ActionEntries)

	c.send(Message{Action: ActionEdit, Tab: "js", Text: `console.log("changed")`})
	c.expect(ActionLint)

	c.send(Message{Action: ActionReset})
	clear := c.expect(ActionClear)
	assert.Equal(t, string(tinkerpen.TriggerReset), clear.Trigger)
	assert.Equal(t, "seed", c.expect(ActionLog).Entry.Message)
	c.expect(ActionLoad)

	src := c.expect(ActionSources)
	assert.Equal(t, `console.log("seed")`, src.Sources.JS)
	c.expect(ActionLint)
}

func TestWebSocketRunRateLimited(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 2
	})
	id := env.createPen(t, CreatePenRequest{HTML: `<p>x</p>`})

	c := env.dial(t, id)
	c.expect(ActionSources)
	c.expect(ActionClear)
	c.expect(ActionLoad)
	c.expect(ActionEntries)

	for _, action := range []string{ActionRun, ActionReset} {
		c.send(Message{Action: action})
		c.expect(ActionClear)
		c.expect(ActionLoad)
	}
	c.expect(ActionSources)
	c.expect(ActionLint)

	c.send(Message{Action: ActionRun})
	assert.Equal(t, errRunRateLimited.Error(), c.expect(ActionError).Error)
	assert.Equal(t, uint64(3), env.console(t, id).Run)
}

func TestWebSocketEditBroadcast(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)
	id := env.createPen(t, CreatePenRequest{HTML: "<p>a</p>"})

	a := env.dial(t, id)
	a.expect(ActionSources)
	a.expect(ActionClear)
	a.expect(ActionLoad)
	a.expect(ActionEntries)

	b := env.dial(t, id)
	b.expect(ActionSources)
	b.expect(ActionClear)
	b.expect(ActionLoad)
	b.expect(ActionEntries)

	a.send(Message{Action: ActionEdit, Tab: "html", Text: "<p>b</p>"})
	src := b.expect(ActionSources)
	assert.Equal(t, "<p>b</p>", src.Sources.HTML)

	b.send(Message{Action: ActionAutoRun, Enabled: boolPtr(true)})
	for _, c := range []*wsTestClient{a, b} {
		msg := c.expect(ActionSources)
		require.NotNil(t, msg.Enabled)
		assert.True(t, *msg.Enabled)
	}
}

func TestWebSocketAutoRun(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, func(cfg *config.Config) {
		cfg.Playground.AutoRun = true
		cfg.Playground.Debounce = "200ms"
	})
	id := env.createPen(t, CreatePenRequest{HTML: "<p></p>"})

	c := env.dial(t, id)
	c.expect(ActionSources)
	c.expect(ActionClear)
	c.expect(ActionLoad)
	c.expect(ActionEntries)

	for _, text := range []string{`console.log(1)`, `console.log(12)`, `console.log(123)`} {
		c.send(Message{Action: ActionEdit, Tab: "js", Text: text})
		c.expect(ActionLint)
	}

	clear := c.expect(ActionClear)
	assert.Equal(t, string(tinkerpen.TriggerAuto), clear.Trigger)
	assert.Equal(t, uint64(2), clear.Run)
	assert.Equal(t, "123", c.expect(ActionLog).Entry.Message)
	c.expect(ActionLoad)
}

func TestWebSocketUnknownPen(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, nil, nil)

	c := env.dial(t, "nope")
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, closePenNotFound), "got %v", err)
}

func TestWebSocketBrowserBridge(t *testing.T) {
	env := newTestServer(t, SandboxBrowser, nil, nil)
	id := env.createPen(t, CreatePenRequest{JS: `console.log("hello")`})

	// the first client mounts the pen and its preview runs the document
	a := env.dial(t, id)
	a.expect(ActionSources)
	clear := a.expect(ActionClear)
	assert.Equal(t, string(tinkerpen.TriggerMount), clear.Trigger)
	load := a.expect(ActionLoad)
	assert.True(t, load.Scripts)
	assert.Contains(t, load.Document, `session: "`+id+`"`)

	b := env.dial(t, id)
	b.expect(ActionSources)
	b.expect(ActionClear)
	b.expect(ActionLoad)
	b.expect(ActionEntries)

	// console output from a second viewer is ignored
	b.send(Message{Action: ActionConsole, Run: load.Run, Level: "log", Args: []string{"duplicate"}})
	b.send(Message{Action: ActionLint})
	b.expect(ActionLint)

	// a stale run is dropped
	a.send(Message{Action: ActionConsole, Run: load.Run + 7, Level: "log", Args: []string{"stale"}})
	a.send(Message{Action: ActionConsole, Run: load.Run, Level: "warn", Args: []string{"hello", "world"}})

	want := &tinkerpen.ConsoleEntry{Level: tinkerpen.LevelWarn, Message: "hello world"}
	assert.Equal(t, want, a.expect(ActionLog).Entry)
	assert.Equal(t, want, b.expect(ActionLog).Entry)

	got := env.console(t, id)
	assert.Equal(t, []tinkerpen.ConsoleEntry{*want}, got.Entries)
}

func TestCatalogReloadNotifiesLessonPens(t *testing.T) {
	env := newTestServer(t, SandboxHeadless, map[string]string{"intro.md": introLesson}, nil)
	lessonPen := env.createPen(t, CreatePenRequest{Lesson: "intro"})
	plainPen := env.createPen(t, CreatePenRequest{})

	a := env.dial(t, lessonPen)
	a.expect(ActionSources)
	a.expect(ActionClear)
	a.expect(ActionLoad)
	a.expect(ActionEntries)

	b := env.dial(t, plainPen)
	b.expect(ActionSources)
	b.expect(ActionClear)
	b.expect(ActionLoad)
	b.expect(ActionEntries)

	env.srv.onCatalogReload()
	a.expect(ActionCatalog)

	b.send(Message{Action: ActionLint})
	b.expect(ActionLint)
}
