package inject_test

import (
	"bytes"
	"testing"

	"github.com/zsprackett/devserve/internal/inject"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name    string
		content string
		inject  bool
		tag     string
	}{
		{"body", "<html><body><p>x</p></body></html>", true, "</body>"},
		{"body wins over head", "<html><head></head><body></body></html>", true, "</body>"},
		{"upper case body", "<HTML><BODY></BODY></HTML>", true, "</BODY>"},
		{"svg", `<svg xmlns="http://www.w3.org/2000/svg"></svg>`, true, "</svg>"},
		{"head only", "<head><title>t</title></head>", true, "</head>"},
		{"fragment", "<p>no closing tags</p>", false, ""},
		{"empty", "", false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := inject.Decide([]byte(tc.content))
			if d.ShouldInject != tc.inject || d.Tag != tc.tag {
				t.Errorf("got %+v, want inject=%v tag=%q", d, tc.inject, tc.tag)
			}
		})
	}
}

func TestRewrite_InsertsBeforeFirstTag(t *testing.T) {
	content := []byte("<p>Hello</p></body></html><!-- </body> -->")
	out := inject.Rewrite(content, "</body>", []byte("<script>S</script>"))
	want := "<p>Hello</p><script>S</script></body></html><!-- </body> -->"
	if string(out) != want {
		t.Errorf("got %q\nwant %q", out, want)
	}
	if len(out) != len(content)+len("<script>S</script>") {
		t.Errorf("length %d, expected original plus snippet", len(out))
	}
}

func TestRewrite_NoTagUnchanged(t *testing.T) {
	content := []byte("<p>fragment</p>")
	if out := inject.Rewrite(content, "</body>", []byte("X")); !bytes.Equal(out, content) {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteEnv(t *testing.T) {
	env := map[string]string{"API_URL": "http://localhost:9000", "EMPTY": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cases := []struct {
		name, in, want string
	}{
		{"set", `<a href="${API_URL}">`, `<a href="http://localhost:9000">`},
		{"unset", "a${MISSING}b", "a${MISSING}b"},
		{"empty", "a${EMPTY}b${UNSET}c", "a${EMPTY}b${UNSET}c"},
		{"lowercase", "${lower}", "${lower}"},
		{"no tokens", "<p>plain</p>", "<p>plain</p>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := string(inject.SubstituteEnv([]byte(tc.in), lookup))
			if got != tc.want {
				t.Errorf("got %q want %q", got, tc.want)
			}
			if again := string(inject.SubstituteEnv([]byte(got), lookup)); again != got {
				t.Errorf("second substitution changed content: %q", again)
			}
		})
	}
}

func TestIsInjectable(t *testing.T) {
	cases := map[string]bool{
		"index.html": true,
		"INDEX.HTM":  true,
		"page.xhtml": true,
		"info.php":   true,
		"logo.svg":   true,
		"README":     true,
		"app.js":     false,
		"style.css":  false,
		"data.json":  false,
	}
	for name, want := range cases {
		if got := inject.IsInjectable(name); got != want {
			t.Errorf("IsInjectable(%q): got %v want %v", name, got, want)
		}
	}
}

func TestSnippet_OpensWebSocket(t *testing.T) {
	s := inject.Snippet()
	if !bytes.Contains(s, []byte("WebSocket")) || !bytes.Contains(s, []byte("refreshcss")) {
		t.Error("snippet does not look like the live-reload client")
	}
}
