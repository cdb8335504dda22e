package pipeline

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

type errorInfo struct {
	Message     string
	Description string
}

var errorMessages = map[int]errorInfo{
	400: {"Bad Request", "The request could not be understood by the server."},
	401: {"Unauthorized", "Authentication is required to access this resource."},
	403: {"Forbidden", "You don't have permission to access this resource."},
	404: {"Not Found", "The requested resource could not be found on this server."},
	405: {"Method Not Allowed", "The request method is not supported for this resource."},
	500: {"Internal Server Error", "The server encountered an unexpected condition."},
	502: {"Bad Gateway", "The server received an invalid response from the upstream server."},
	503: {"Service Unavailable", "The server is temporarily unable to handle the request."},
}

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>{{.Status}} - {{.Message}}</title>
	<style>
		* { margin: 0; padding: 0; box-sizing: border-box; }
		body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #1f2430; min-height: 100vh; display: flex; align-items: center; justify-content: center; padding: 20px; }
		.box { background: #fff; border-radius: 12px; padding: 48px 32px; max-width: 600px; width: 100%; text-align: center; }
		.code { font-size: 96px; font-weight: 900; color: #5c6bc0; line-height: 1; margin-bottom: 16px; }
		.message { font-size: 24px; color: #333; margin-bottom: 12px; font-weight: 600; }
		.description { font-size: 16px; color: #666; margin-bottom: 24px; line-height: 1.6; }
		.details { background: #f5f5f5; border-radius: 8px; padding: 16px; margin-top: 24px; text-align: left; }
		.details pre { font-family: monospace; font-size: 14px; color: #c0392b; white-space: pre-wrap; word-wrap: break-word; }
		a { color: #5c6bc0; }
		.footer { margin-top: 24px; font-size: 13px; color: #999; }
	</style>
</head>
<body>
	<div class="box">
		<div class="code">{{.Status}}</div>
		<div class="message">{{.Message}}</div>
		<div class="description">{{.Description}}</div>
		<a href="/">Back to home</a>
		{{if .Details}}<div class="details"><strong>Error details:</strong><pre>{{.Details}}</pre></div>{{end}}
		<div class="footer">devserve development server</div>
	</div>
</body>
</html>
`))

// ErrorPage renders styled HTML error pages.
type ErrorPage struct {
	// ShowDetails includes the error text in the page.
	ShowDetails bool
	Logger      *slog.Logger
}

// Render writes the page for status. err may be nil.
func (p *ErrorPage) Render(w http.ResponseWriter, r *http.Request, status int, err error) {
	info, ok := errorMessages[status]
	if !ok {
		status = http.StatusInternalServerError
		info = errorMessages[status]
	}
	data := struct {
		Status      int
		Message     string
		Description string
		Details     string
	}{Status: status, Message: info.Message, Description: info.Description}
	if err != nil && p.ShowDetails {
		data.Details = err.Error()
	}
	if err != nil && p.Logger != nil && status >= 500 {
		p.Logger.Error("request failed", "url", r.URL.RequestURI(), "status", status, "err", err)
	}

	var buf bytes.Buffer
	if terr := errorTemplate.Execute(&buf, data); terr != nil {
		http.Error(w, info.Message, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// NotFound is the terminal handler of the static chain.
func (p *ErrorPage) NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Render(w, r, http.StatusNotFound, nil)
	})
}
