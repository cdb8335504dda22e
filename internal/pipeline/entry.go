package pipeline

import (
	"net/http"
	"net/url"
	"path"
)

// EntryFile serves file through h for any request that reached it, which is
// what a client-side router needs after a static miss.
func EntryFile(file string, h http.Handler) http.Handler {
	target := path.Clean("/" + file)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := new(http.Request)
		*r2 = *r
		r2.URL = new(url.URL)
		*r2.URL = *r.URL
		r2.URL.Path = target
		r2.URL.RawPath = ""
		h.ServeHTTP(w, r2)
	})
}
