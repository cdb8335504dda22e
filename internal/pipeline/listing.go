package pipeline

import (
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Index of {{.Path}}</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 2em; color: #333; }
		table { border-collapse: collapse; }
		td { padding: 2px 16px 2px 0; }
		td.size, td.time { color: #888; }
		a { text-decoration: none; color: #3949ab; }
	</style>
</head>
<body>
<h1>Index of {{.Path}}</h1>
<table>
{{if ne .Path "/"}}<tr><td><a href="../">../</a></td><td></td><td></td></tr>
{{end}}{{range .Entries}}<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td class="size">{{.Size}}</td><td class="time">{{.Modified}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type listingEntry struct {
	Name     string
	Href     string
	Size     string
	Modified string
}

// Listing renders an HTML index for directories under Root. Anything else
// goes to Next.
type Listing struct {
	Root    string
	Next    http.Handler
	OnError func(w http.ResponseWriter, r *http.Request, status int, err error)
}

func (l *Listing) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		l.Next.ServeHTTP(w, r)
		return
	}
	upath := path.Clean("/" + r.URL.Path)
	if (!strings.HasSuffix(r.URL.Path, "/") && upath != "/") || strings.Contains(upath, "/.") {
		l.Next.ServeHTTP(w, r)
		return
	}
	dir := filepath.Join(l.Root, filepath.FromSlash(upath))
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) || !isDir(dir) {
			l.Next.ServeHTTP(w, r)
			return
		}
		l.OnError(w, r, http.StatusForbidden, err)
		return
	}

	var entries []listingEntry
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := e.Name()
		size := humanize.IBytes(uint64(info.Size()))
		if e.IsDir() {
			name += "/"
			size = "-"
		}
		entries = append(entries, listingEntry{
			Name:     name,
			Href:     (&url.URL{Path: name}).String(),
			Size:     size,
			Modified: humanize.Time(info.ModTime()),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := strings.HasSuffix(entries[i].Name, "/"), strings.HasSuffix(entries[j].Name, "/")
		if di != dj {
			return di
		}
		return entries[i].Name < entries[j].Name
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	listingTemplate.Execute(w, struct {
		Path    string
		Entries []listingEntry
	}{Path: upath, Entries: entries})
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
