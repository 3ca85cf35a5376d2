package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"tradepost/internal/config"
	"tradepost/internal/http/handlers"
	"tradepost/internal/notify"
	"tradepost/internal/repos"
	"tradepost/internal/worker"
)

type testApp struct {
	app  *fiber.App
	db   *sqlx.DB
	deps *handlers.Deps
}

// newTestApp wires the full route table over an in-memory store, the way
// serve does minus the access logger and helmet.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := config.Config{DBDSN: ":memory:"}
	db, err := repos.OpenDB(cfg.DBDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	deps := handlers.NewDeps(db, cfg, nil)
	engine := html.New("../../web/templates", ".html")
	app := fiber.New(fiber.Config{Views: engine, ErrorHandler: handlers.ErrorHandler})
	app.Server().MaxRequestBodySize = 1 << 20
	app.Use(requestid.New())
	app.Use(handlers.Authenticate(deps.Auth))
	deps.Mount(app)
	app.Use(handlers.NotFound)
	return &testApp{app: app, db: db, deps: deps}
}

// session binds a fresh session id to userID without going through the form.
func (a *testApp) session(t *testing.T, userID string) string {
	t.Helper()
	sid := "sid-" + userID
	require.NoError(t, repos.NewUserRepo(a.db).BindSession(sid, userID))
	return sid
}

// call sends a JSON request and decodes a JSON response body into out (if non-nil).
func (a *testApp) call(t *testing.T, method, path, sid string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

// form posts url-encoded values carrying the CSRF cookie and field.
func (a *testApp) form(t *testing.T, path, sid, csrfTok string, vals url.Values) *http.Response {
	t.Helper()
	vals.Set("csrf", csrfTok)
	req := httptest.NewRequest("POST", path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_", Value: csrfTok})
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// csrfToken fetches a page so the CSRF middleware issues a token.
func (a *testApp) csrfToken(t *testing.T, path, sid string) string {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	tok := extractCookie(resp, "csrf_")
	require.NotEmpty(t, tok, "csrf token missing")
	return tok
}

// drain runs the outbox worker until nothing is left to deliver.
func (a *testApp) drain(t *testing.T) {
	t.Helper()
	w := worker.New(a.deps.Outbox, a.deps.Cascade, notify.LogSink{})
	for i := 0; i < 10; i++ {
		res, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		if res.Done == 0 && res.Failed == 0 {
			return
		}
	}
	t.Fatal("outbox did not drain")
}

type apiError struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type listingJSON struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Status  string `json:"status"`
}

func newListing(title string) map[string]any {
	return map[string]any{
		"category_id": "electronics",
		"title":       title,
		"description": "works fine",
		"price_usd":   120.5,
		"images":      []string{"https://img.tradepost.test/1.jpg"},
	}
}

// activeListing creates and publishes a listing for the session owner.
func (a *testApp) activeListing(t *testing.T, sid, title string) listingJSON {
	t.Helper()
	var l listingJSON
	require.Equal(t, http.StatusCreated, a.call(t, "POST", "/api/v1/listings", sid, newListing(title), &l))
	require.Equal(t, http.StatusOK, a.call(t, "POST", "/api/v1/listings/"+l.ID+"/publish", sid, nil, &l))
	require.Equal(t, "active", l.Status)
	return l
}

func extractCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

type logEntry struct {
	Level  string                 `json:"level"`
	Action string                 `json:"action"`
	UserID string                 `json:"user_id"`
	Status int                    `json:"status"`
	Err    string                 `json:"err"`
	Fields map[string]interface{} `json:"fields"`
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// captureLogs swaps the standard logger output for the duration of fn.
func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedWriter{w: &buf, mu: &mu})
	log.SetFlags(0) // remove timestamps to make JSON parseable
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func findLog(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}

func newGet(path string) *http.Request { return httptest.NewRequest("GET", path, nil) }

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
