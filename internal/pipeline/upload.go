package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MaxUploadSize caps a single uploaded file.
const MaxUploadSize = 10 << 20

// UploadedFile describes a stored upload in the JSON response.
type UploadedFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
}

// Upload stores the multipart field "file" from POST /upload into dir.
type Upload struct {
	Dir    string
	Logger *slog.Logger
}

func (u *Upload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1<<20)
	src, hdr, err := r.FormFile("file")
	if err != nil {
		writeUploadError(w, fmt.Errorf("read upload: %w", err))
		return
	}
	defer src.Close()
	if hdr.Size > MaxUploadSize {
		writeUploadError(w, fmt.Errorf("file too large: %d bytes", hdr.Size))
		return
	}

	if err := os.MkdirAll(u.Dir, 0755); err != nil {
		writeUploadError(w, err)
		return
	}
	name := "file-" + uuid.NewString() + filepath.Ext(hdr.Filename)
	dst := filepath.Join(u.Dir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	n, err := io.Copy(f, io.LimitReader(src, MaxUploadSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxUploadSize {
		err = fmt.Errorf("file too large")
	}
	if err != nil {
		os.Remove(dst)
		writeUploadError(w, err)
		return
	}

	if u.Logger != nil {
		u.Logger.Info("upload: stored file", "name", name, "original", hdr.Filename, "size", n)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"file": UploadedFile{
			Filename:     name,
			OriginalName: hdr.Filename,
			Size:         n,
			Path:         dst,
		},
	})
}

func writeUploadError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
