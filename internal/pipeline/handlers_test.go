package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zsprackett/devserve/internal/events"
	"github.com/zsprackett/devserve/internal/pipeline"
)

func TestProxy_PreservesHostAndAddsVia(t *testing.T) {
	var gotHost, gotVia, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost, gotVia, gotPath = r.Host, r.Header.Get("Via"), r.URL.Path
		w.Write([]byte("upstream"))
	}))
	defer upstream.Close()

	target, _ := url.Parse(upstream.URL + "/v1")
	proxy, _ := pipeline.NewProxy(pipeline.ProxyConfig{Target: target, Logger: quiet()})
	front := httptest.NewServer(http.StripPrefix("/api", proxy))
	defer front.Close()

	res, err := http.Get(front.URL + "/api/users")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	frontURL, _ := url.Parse(front.URL)
	if gotHost != frontURL.Host {
		t.Errorf("upstream saw Host %q, want %q", gotHost, frontURL.Host)
	}
	if !strings.Contains(gotVia, "devserve") {
		t.Errorf("Via %q", gotVia)
	}
	if gotPath != "/v1/users" {
		t.Errorf("path %q", gotPath)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestProxy_BreakerOpens(t *testing.T) {
	target, _ := url.Parse("http://127.0.0.1:1")
	proxy, cb := pipeline.NewProxy(pipeline.ProxyConfig{
		Target:      target,
		Logger:      quiet(),
		Transport:   failingTransport{},
		MaxFailures: 2,
		OpenFor:     time.Minute,
	})
	for i := 0; i < 3; i++ {
		if rec := serve(proxy, httptest.NewRequest("GET", "/", nil)); rec.Code != http.StatusBadGateway {
			t.Errorf("request %d: status %d", i, rec.Code)
		}
	}
	if cb.State() != gobreaker.StateOpen {
		t.Errorf("breaker state %v", cb.State())
	}
}

func TestUpload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "photo.png")
	fw.Write([]byte("pngdata"))
	mw.Close()

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(&pipeline.Upload{Dir: dir}, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool                  `json:"success"`
		File    pipeline.UploadedFile `json:"file"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.File.OriginalName != "photo.png" || resp.File.Size != 7 {
		t.Errorf("response %+v", resp)
	}
	if !strings.HasPrefix(resp.File.Filename, "file-") || filepath.Ext(resp.File.Filename) != ".png" {
		t.Errorf("stored name %q", resp.File.Filename)
	}
	data, err := os.ReadFile(filepath.Join(dir, resp.File.Filename))
	if err != nil || string(data) != "pngdata" {
		t.Errorf("stored content %q, %v", data, err)
	}
}

func TestUpload_MissingField(t *testing.T) {
	req := httptest.NewRequest("POST", "/upload", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := serve(&pipeline.Upload{Dir: t.TempDir()}, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d", rec.Code)
	}
}

type memRecorder struct {
	mu  sync.Mutex
	got []events.Request
}

func (m *memRecorder) RecordRequest(_ context.Context, req events.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, req)
	return nil
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	store := &memRecorder{}
	l := &pipeline.RequestLog{W: &buf, Store: store}
	h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("PUT", "/items?x=1", nil)
	req.Header.Set("User-Agent", "test-agent")
	serve(h, req)

	var entry events.Request
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if entry.Method != "PUT" || entry.URL != "/items?x=1" || entry.Status != 201 || entry.UserAgent != "test-agent" {
		t.Errorf("entry %+v", entry)
	}
	if entry.ID == "" || !strings.HasSuffix(entry.Duration, "ms") {
		t.Errorf("entry %+v", entry)
	}
	if len(store.got) != 1 || store.got[0].ID != entry.ID {
		t.Errorf("journal got %+v", store.got)
	}
}

func TestErrorPage(t *testing.T) {
	p := &pipeline.ErrorPage{ShowDetails: true}
	rec := httptest.NewRecorder()
	p.Render(rec, httptest.NewRequest("GET", "/x", nil), http.StatusForbidden, errors.New("<denied>"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Forbidden") || !strings.Contains(body, "&lt;denied&gt;") {
		t.Errorf("body missing message or escaped details")
	}

	rec = httptest.NewRecorder()
	p.Render(rec, httptest.NewRequest("GET", "/x", nil), 418, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unknown status rendered as %d", rec.Code)
	}
}

func TestListing(t *testing.T) {
	root := t.TempDir()
	os.Mkdir(filepath.Join(root, "assets"), 0755)
	os.WriteFile(filepath.Join(root, "a b.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(root, ".secret"), []byte("x"), 0644)

	next := http.NotFoundHandler()
	l := &pipeline.Listing{Root: root, Next: next}

	rec := serve(l, httptest.NewRequest("GET", "/", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(body, `href="assets/"`) || !strings.Contains(body, `href="a%20b.txt"`) {
		t.Errorf("listing missing entries:\n%s", body)
	}
	if strings.Contains(body, ".secret") {
		t.Error("listing shows dotfiles")
	}
	if strings.Index(body, "assets/") > strings.Index(body, "a%20b.txt") {
		t.Error("directories should sort first")
	}

	if rec := serve(l, httptest.NewRequest("GET", "/missing/", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing dir status %d", rec.Code)
	}
}
