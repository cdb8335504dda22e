// Package inject serves files from a directory and splices the live-reload
// client into HTML-like responses.
//
// Tag detection is a byte-level heuristic, not an HTML parse: a closing tag
// inside a comment or a script string literal still counts as a match.
package inject

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

//go:embed snippet.html
var snippet []byte

// Snippet returns the client script spliced into HTML responses. It is
// constant for the life of the process.
func Snippet() []byte {
	return snippet
}

// Injectable lists the file extensions considered for injection. The empty
// string covers extensionless files.
var Injectable = map[string]bool{
	"":       true,
	".html":  true,
	".htm":   true,
	".xhtml": true,
	".php":   true,
	".svg":   true,
}

// Tag names the closing tag the snippet is inserted in front of.
type Tag string

const (
	TagNone Tag = ""
	TagBody Tag = "</body>"
	TagSVG  Tag = "</svg>"
	TagHead Tag = "</head>"
)

// Candidates are tried in order; the first match wins.
var candidates = []*regexp.Regexp{
	regexp.MustCompile(`(?i)</body>`),
	regexp.MustCompile(`</svg>`),
	regexp.MustCompile(`(?i)</head>`),
}

var envToken = regexp.MustCompile(`\$\{([A-Z_]+)\}`)

// Decision is computed once per response from the file contents.
type Decision struct {
	ShouldInject bool
	// Tag is the closing tag as it appeared in the content.
	Tag string
}

// Decide scans content for the first candidate closing tag.
func Decide(content []byte) Decision {
	for _, re := range candidates {
		if m := re.Find(content); m != nil {
			return Decision{ShouldInject: true, Tag: string(m)}
		}
	}
	return Decision{}
}

// SubstituteEnv replaces ${NAME} tokens with the value of the environment
// variable NAME. Unset or empty names are left as written.
func SubstituteEnv(content []byte, lookup func(string) (string, bool)) []byte {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if !bytes.Contains(content, []byte("${")) {
		return content
	}
	return envToken.ReplaceAllFunc(content, func(match []byte) []byte {
		name := envToken.FindSubmatch(match)[1]
		if v, ok := lookup(string(name)); ok && v != "" {
			return []byte(v)
		}
		return match
	})
}

// Rewrite inserts snip immediately before the first case-insensitive
// occurrence of tag. Content without the tag is returned unchanged.
func Rewrite(content []byte, tag string, snip []byte) []byte {
	if tag == "" {
		return content
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(tag))
	loc := re.FindIndex(content)
	if loc == nil {
		return content
	}
	out := make([]byte, 0, len(content)+len(snip))
	out = append(out, content[:loc[0]]...)
	out = append(out, snip...)
	out = append(out, tag...)
	out = append(out, content[loc[1]:]...)
	return out
}

// IsInjectable reports whether a file with this name is considered for
// injection.
func IsInjectable(name string) bool {
	return Injectable[strings.ToLower(filepath.Ext(name))]
}
