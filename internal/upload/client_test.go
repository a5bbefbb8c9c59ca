package upload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/upload" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()
		body, _ := io.ReadAll(file)
		if string(body) != "file contents" {
			t.Errorf("uploaded body = %q", body)
		}
		if header.Filename != "doc.pdf" {
			t.Errorf("filename = %q, want doc.pdf", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":           "https://cdn/x/doc.pdf",
			"filename":      "x-doc.pdf",
			"original_name": "doc.pdf",
			"file_type":     "application/pdf",
			"file_size":     13,
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok")
	att, err := c.Upload(context.Background(), "/tmp/some/doc.pdf", strings.NewReader("file contents"))
	if err != nil {
		t.Fatal(err)
	}
	if att.URL != "https://cdn/x/doc.pdf" || att.FileName != "doc.pdf" {
		t.Errorf("attachment = %+v, want cdn url and original name", att)
	}
	if att.FileType != "application/pdf" || att.FileSize != 13 {
		t.Errorf("attachment = %+v, want pdf / 13 bytes", att)
	}
}

func TestUploadFallsBackToServerFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":      "https://cdn/x/f",
			"filename": "generated-name.bin",
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok")
	att, err := c.Upload(context.Background(), "f", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if att.FileName != "generated-name.bin" {
		t.Errorf("FileName = %q, want the server-side name", att.FileName)
	}
}

func TestUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "tok")
	if _, err := c.Upload(context.Background(), "f", strings.NewReader("x")); err == nil {
		t.Error("Upload should fail on non-2xx status")
	}
}
