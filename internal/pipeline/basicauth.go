package pipeline

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Realm is sent in the WWW-Authenticate challenge.
const Realm = "Please authorize"

// Htpasswd maps user names to stored password hashes.
type Htpasswd map[string]string

// LoadHtpasswd reads an htpasswd file. Blank lines and # comments are skipped.
func LoadHtpasswd(path string) (Htpasswd, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open htpasswd: %w", err)
	}
	defer f.Close()
	return ParseHtpasswd(f)
}

// ParseHtpasswd reads user:hash lines.
func ParseHtpasswd(r io.Reader) (Htpasswd, error) {
	out := make(Htpasswd)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		user, hash, ok := strings.Cut(text, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("htpasswd line %d: expected user:hash", line)
		}
		out[user] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read htpasswd: %w", err)
	}
	return out, nil
}

// Verify checks a password against the stored entry for user. Supported
// hash formats: bcrypt, {SHA} and plain text.
func (h Htpasswd) Verify(user, password string) bool {
	stored, ok := h[user]
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	case strings.HasPrefix(stored, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		want := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(stored[len("{SHA}"):]), []byte(want)) == 1
	case strings.HasPrefix(stored, "$"):
		// apr1, md5-crypt and sha-crypt are not supported.
		return false
	default:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
	}
}

// HtpasswdLine returns a "user:bcrypt-hash" line for appending to a file.
func HtpasswdLine(user string, password []byte) (string, error) {
	if user == "" || strings.Contains(user, ":") {
		return "", fmt.Errorf("invalid user name %q", user)
	}
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return user + ":" + string(hash), nil
}

// BasicAuth challenges requests without valid credentials.
func BasicAuth(users Htpasswd) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if ok && users.Verify(user, pass) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`"`)
			http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
		})
	}
}
