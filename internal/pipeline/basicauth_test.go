package pipeline_test

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zsprackett/devserve/internal/pipeline"
)

func TestHtpasswd_Verify(t *testing.T) {
	bcryptLine, err := pipeline.HtpasswdLine("alice", []byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	sum := sha1.Sum([]byte("hunter2"))
	file := strings.Join([]string{
		"# users",
		bcryptLine,
		"bob:{SHA}" + base64.StdEncoding.EncodeToString(sum[:]),
		"carol:plain",
		"dave:$apr1$abc$def",
		"",
	}, "\n")

	users, err := pipeline.ParseHtpasswd(strings.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		user, pass string
		want       bool
	}{
		{"alice", "s3cret", true},
		{"alice", "wrong", false},
		{"bob", "hunter2", true},
		{"bob", "hunter3", false},
		{"carol", "plain", true},
		{"dave", "anything", false},
		{"eve", "", false},
	}
	for _, tc := range cases {
		if got := users.Verify(tc.user, tc.pass); got != tc.want {
			t.Errorf("Verify(%q, %q): got %v want %v", tc.user, tc.pass, got, tc.want)
		}
	}
}

func TestParseHtpasswd_Malformed(t *testing.T) {
	if _, err := pipeline.ParseHtpasswd(strings.NewReader("no-colon-here\n")); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestHtpasswdLine_RejectsColon(t *testing.T) {
	if _, err := pipeline.HtpasswdLine("a:b", []byte("x")); err == nil {
		t.Error("expected error")
	}
}

func TestBasicAuth(t *testing.T) {
	h := pipeline.BasicAuth(pipeline.Htpasswd{"carol": "plain"})(ok)

	rec := serve(h, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="Please authorize"` {
		t.Errorf("challenge %q", got)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("carol", "plain")
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Errorf("authorized request got %d", rec.Code)
	}
}
