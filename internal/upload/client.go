// Package upload talks to the marketplace file-upload endpoint. Files are
// uploaded over REST before the resulting attachment reference is sent
// through the chat socket.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/trenchjob/tjchat/internal/chat"
)

// Client posts files to <base>/api/v1/upload with the session bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates an upload client for the given http(s) base URL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
}

// Upload streams a file to the server and returns the attachment reference
// to embed in a message.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (chat.Attachment, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(name))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/upload", pr)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return chat.Attachment{}, fmt.Errorf("upload: server returned %d: %s", resp.StatusCode, body)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chat.Attachment{}, fmt.Errorf("upload: decode response: %w", err)
	}

	fileName := out.OriginalName
	if fileName == "" {
		fileName = out.Filename
	}
	return chat.Attachment{
		URL:      out.URL,
		FileName: fileName,
		FileType: out.FileType,
		FileSize: out.FileSize,
	}, nil
}
